package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"google.golang.org/protobuf/types/known/structpb"
)

type outputMode struct {
	json bool
}

func (o outputMode) printJSON(value any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func (o outputMode) table(rows [][]string) {
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

// status prints a GetStatus/Refresh response as a short report.
func (o outputMode) status(resp *structpb.Struct) error {
	if o.json {
		return o.printJSON(resp.AsMap())
	}
	fields := resp.GetFields()
	available := "no"
	if fields["available"].GetBoolValue() {
		available = "yes"
	}
	fmt.Printf("available: %s\n", available)
	if msg := fields["error"].GetStringValue(); msg != "" {
		fmt.Printf("error: %s (%s)\n", msg, fields["error_kind"].GetStringValue())
	}
	if ts := fields["last_success_at"].GetStringValue(); ts != "" {
		fmt.Printf("last success: %s\n", ts)
	}

	device, ok := fields["device"]
	if !ok {
		fmt.Println("device: no data yet")
		return nil
	}
	d := device.GetStructValue().GetFields()
	fmt.Printf("device: %s (%s)\n", d["name"].GetStringValue(), d["mac"].GetStringValue())
	fmt.Printf("online: %v\n", d["online"].GetBoolValue())
	if temp, ok := d["temperature"]; ok {
		fmt.Printf("temperature: %.1f°C\n", temp.GetNumberValue())
	}
	if mode, ok := d["comovement"]; ok {
		fmt.Printf("comovement: %d\n", int(mode.GetNumberValue()))
	}

	rows := [][]string{{"SWITCH", "STATE"}}
	switches := d["switches"].GetStructValue().GetFields()
	names := make([]string, 0, len(switches))
	for name := range switches {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rows = append(rows, []string{name, onOff(switches[name].GetBoolValue())})
	}
	o.table(rows)
	return nil
}
