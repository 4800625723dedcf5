// Package flair is a client for the Flair JSON:API covering structures,
// rooms and HVAC units.
package flair

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/joshp123/gohome-flair/internal/logging"
	"github.com/joshp123/gohome-flair/internal/model"
	"github.com/joshp123/gohome-flair/internal/rate"
)

var ErrUnauthorized = errors.New("flair api unauthorized")

// TokenSource supplies bearer tokens and accepts invalidation after a 401.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	TriggerRefresh(ctx context.Context)
}

// APIError is a non-2xx response.
type APIError struct {
	Status int
	Body   string
}

func (e APIError) Error() string {
	return fmt.Sprintf("flair api error %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// Client talks to the Flair REST API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	log        *logging.Logger
}

// NewClient builds a client. A nil guard leaves requests unthrottled.
func NewClient(cfg Config, tokens TokenSource, guard *rate.Guard) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := &http.Client{Timeout: 15 * time.Second}
	if guard != nil {
		httpClient = rate.WrapHTTP(guard, httpClient)
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Client{
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: httpClient,
		log:        log.Named("flair"),
	}
}

// GetPrimaryStructure returns the account's first structure.
func (c *Client) GetPrimaryStructure(ctx context.Context) (model.Structure, error) {
	var resources []resource
	if err := c.getList(ctx, "/api/structures", &resources); err != nil {
		return model.Structure{}, err
	}
	if len(resources) == 0 {
		return model.Structure{}, fmt.Errorf("no structures found for account")
	}
	return decodeStructure(resources[0])
}

func (c *Client) SetStructureMode(ctx context.Context, s model.Structure, mode model.StructureMode) (model.Structure, error) {
	var r resource
	err := c.patch(ctx, "/api/structures/"+url.PathEscape(s.ID), typeStructures, s.ID, map[string]any{"mode": string(mode)}, &r)
	if err != nil {
		return model.Structure{}, err
	}
	return decodeStructure(r)
}

// GetHVACs lists the structure's units. Units whose attributes do not fit
// the model (a mode such as Dry) are logged and left out of the result.
func (c *Client) GetHVACs(ctx context.Context, s model.Structure) ([]model.HVAC, error) {
	var resources []resource
	if err := c.getList(ctx, "/api/structures/"+url.PathEscape(s.ID)+"/hvac-units", &resources); err != nil {
		return nil, err
	}
	out := make([]model.HVAC, 0, len(resources))
	for _, r := range resources {
		h, err := decodeHVAC(r)
		var malformed *MalformedResponseError
		if errors.As(err, &malformed) {
			c.log.Warnw("skipping malformed hvac unit", "device_id", r.ID, "reason", malformed.Reason)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func (c *Client) GetHVAC(ctx context.Context, h model.HVAC) (model.HVAC, error) {
	var r resource
	if err := c.getOne(ctx, "/api/hvac-units/"+url.PathEscape(h.ID), &r); err != nil {
		return model.HVAC{}, err
	}
	return c.decodeHVACFor(h, r)
}

func (c *Client) SetHVACPowerMode(ctx context.Context, h model.HVAC, power model.PowerMode) (model.HVAC, error) {
	return c.patchHVAC(ctx, h, map[string]any{"power": string(power)})
}

func (c *Client) SetHVACMode(ctx context.Context, h model.HVAC, mode model.HVACMode) (model.HVAC, error) {
	return c.patchHVAC(ctx, h, map[string]any{"mode": string(mode)})
}

// SetHVACTemperature writes valueC expressed in the unit's own scale.
func (c *Client) SetHVACTemperature(ctx context.Context, h model.HVAC, valueC float64) (model.HVAC, error) {
	return c.patchHVAC(ctx, h, map[string]any{"temperature": model.FromCelsius(valueC, h.TemperatureScale)})
}

func (c *Client) GetRoom(ctx context.Context, room model.Room) (model.Room, error) {
	if room.ID == "" {
		return model.Room{}, fmt.Errorf("room id is required")
	}
	var r resource
	if err := c.getOne(ctx, "/api/rooms/"+url.PathEscape(room.ID), &r); err != nil {
		return model.Room{}, err
	}
	return decodeRoom(r)
}

func (c *Client) patchHVAC(ctx context.Context, h model.HVAC, attrs map[string]any) (model.HVAC, error) {
	var r resource
	if err := c.patch(ctx, "/api/hvac-units/"+url.PathEscape(h.ID), typeHVACUnits, h.ID, attrs, &r); err != nil {
		return model.HVAC{}, err
	}
	return c.decodeHVACFor(h, r)
}

// decodeHVACFor keeps the known room link when a response omits relationships.
func (c *Client) decodeHVACFor(prev model.HVAC, r resource) (model.HVAC, error) {
	h, err := decodeHVAC(r)
	if err != nil {
		return model.HVAC{}, err
	}
	if h.RoomID == "" {
		h.RoomID = prev.RoomID
	}
	return h, nil
}

func (c *Client) getOne(ctx context.Context, path string, out *resource) error {
	var doc document
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &doc); err != nil {
		return err
	}
	return unmarshalData(path, doc.Data, out)
}

func (c *Client) getList(ctx context.Context, path string, out *[]resource) error {
	var doc document
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &doc); err != nil {
		return err
	}
	return unmarshalData(path, doc.Data, out)
}

func (c *Client) patch(ctx context.Context, path, kind, id string, attrs map[string]any, out *resource) error {
	payload := map[string]any{
		"data": map[string]any{
			"type":       kind,
			"id":         id,
			"attributes": attrs,
		},
	}
	var doc document
	if err := c.doJSON(ctx, http.MethodPatch, path, payload, &doc); err != nil {
		return err
	}
	return unmarshalData(path, doc.Data, out)
}

func unmarshalData(path string, data json.RawMessage, out any) error {
	if len(data) == 0 || string(data) == "null" {
		return &MalformedResponseError{Resource: path, Reason: "missing data"}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &MalformedResponseError{Resource: path, Reason: err.Error()}
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return APIError{Status: resp.StatusCode, Body: string(data)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &MalformedResponseError{Resource: path, Reason: err.Error()}
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	accessToken, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	resp.Body.Close()
	c.tokens.TriggerRefresh(ctx)
	return nil, fmt.Errorf("%w; refresh triggered", ErrUnauthorized)
}
