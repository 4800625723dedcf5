package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/gohome-flair/internal/model"
	"github.com/joshp123/gohome-flair/internal/server"
)

func thermostatsCmd(ctx context.Context, conn *grpc.ClientConn, args []string, jsonOutput bool) {
	out := outputMode{json: jsonOutput}
	if len(args) == 0 {
		thermostatsUsage()
		os.Exit(2)
	}

	switch args[0] {
	case "list", "ls":
		resp := invoke(ctx, conn, server.MethodListThermostats, &emptypb.Empty{})
		if out.json {
			out.printJSON(resp)
			return
		}
		rows := [][]string{{"NAME", "ID", "TARGET", "CURRENT", "ROOM", "SET POINT"}}
		for _, v := range resp.GetFields()["thermostats"].GetListValue().GetValues() {
			f := v.GetStructValue().GetFields()
			scale := model.TemperatureScale(f["temperature_scale"].GetStringValue())
			rows = append(rows, []string{
				f["name"].GetStringValue(),
				f["device_id"].GetStringValue(),
				f["target_state"].GetStringValue(),
				f["current_state"].GetStringValue(),
				formatTemp(f["current_temperature_c"].GetNumberValue(), scale),
				formatTemp(f["set_point_c"].GetNumberValue(), scale),
			})
		}
		out.table(rows)
	case "get":
		requireArgs(args, 2, "thermostats get <name|id>")
		id := lookupDevice(ctx, conn, args[1])
		resp := invoke(ctx, conn, server.MethodGetThermostat, mustStruct(map[string]any{"id": id}))
		out.printJSON(resp)
	case "mode":
		requireArgs(args, 3, "thermostats mode <name|id> <off|cool|heat|auto>")
		if _, err := model.ParseTargetState(args[2]); err != nil {
			fatal("thermostats mode", err)
		}
		id := lookupDevice(ctx, conn, args[1])
		resp := invoke(ctx, conn, server.MethodSetTargetMode, mustStruct(map[string]any{"id": id, "mode": args[2]}))
		if out.json {
			out.printJSON(resp)
			return
		}
		fmt.Printf("ok: %s -> %s\n", args[1], resp.GetFields()["mode"].GetStringValue())
	case "temp":
		requireArgs(args, 2, "thermostats temp <name|id> [celsius]")
		id := lookupDevice(ctx, conn, args[1])
		if len(args) == 2 {
			resp := invoke(ctx, conn, server.MethodGetTargetTemperature, mustStruct(map[string]any{"id": id}))
			if out.json {
				out.printJSON(resp)
				return
			}
			fmt.Printf("%s: %.1f°C\n", args[1], resp.GetFields()["celsius"].GetNumberValue())
			return
		}
		celsius, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			fatal("thermostats temp", fmt.Errorf("invalid temperature %q", args[2]))
		}
		resp := invoke(ctx, conn, server.MethodSetTargetTemperature, mustStruct(map[string]any{"id": id, "celsius": celsius}))
		if out.json {
			out.printJSON(resp)
			return
		}
		f := resp.GetFields()
		fmt.Printf("ok: %s -> %.1f°%s\n", args[1], f["value"].GetNumberValue(), f["scale"].GetStringValue())
	case "discover":
		resp := invoke(ctx, conn, server.MethodDiscover, &emptypb.Empty{})
		if out.json {
			out.printJSON(resp)
			return
		}
		fmt.Printf("ok: %.0f thermostats\n", resp.GetFields()["devices"].GetNumberValue())
	default:
		thermostatsUsage()
		os.Exit(2)
	}
}

func invoke(ctx context.Context, conn *grpc.ClientConn, method string, req any) *structpb.Struct {
	resp := &structpb.Struct{}
	if err := conn.Invoke(ctx, server.FullMethod(method), req, resp); err != nil {
		fatal(method, err)
	}
	return resp
}

func lookupDevice(ctx context.Context, conn *grpc.ClientConn, input string) string {
	resp := invoke(ctx, conn, server.MethodListThermostats, &emptypb.Empty{})
	byName := make(map[string]string)
	for _, v := range resp.GetFields()["thermostats"].GetListValue().GetValues() {
		f := v.GetStructValue().GetFields()
		byName[f["name"].GetStringValue()] = f["device_id"].GetStringValue()
	}
	id, err := resolveDevice(input, byName)
	if err != nil {
		fatal("resolve", err)
	}
	return id
}

func mustStruct(fields map[string]any) *structpb.Struct {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		fatal("build request", err)
	}
	return s
}

func formatTemp(celsius float64, scale model.TemperatureScale) string {
	if scale == model.ScaleFahrenheit {
		return fmt.Sprintf("%.1f°F", model.CelsiusToFahrenheit(celsius))
	}
	return fmt.Sprintf("%.1f°C", celsius)
}

func requireArgs(args []string, n int, usageLine string) {
	if len(args) < n {
		fatal(args[0], fmt.Errorf("usage: gohome-flair-cli %s", usageLine))
	}
}

func thermostatsUsage() {
	fmt.Println("gohome-flair-cli thermostats <command>")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  list")
	fmt.Println("  get <name|id>")
	fmt.Println("  mode <name|id> <off|cool|heat|auto>")
	fmt.Println("  temp <name|id> [celsius]")
	fmt.Println("  discover")
}
