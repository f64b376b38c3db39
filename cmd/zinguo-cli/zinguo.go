package main

import (
	"flag"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/zinguo/internal/rpc"
	"github.com/joshp123/zinguo/plugins/zinguo"
)

func (c *cli) invoke(method string, fields map[string]any) (*structpb.Struct, error) {
	return rpc.Invoke(c.ctx, c.conn, zinguo.ServiceName, method, fields)
}

func statusCmd(c *cli, _ []string) error {
	resp, err := c.invoke("GetStatus", nil)
	if err != nil {
		return err
	}
	return c.out.status(resp)
}

func refreshCmd(c *cli, _ []string) error {
	resp, err := c.invoke("Refresh", nil)
	if err != nil {
		return err
	}
	return c.out.status(resp)
}

func switchCmd(c *cli, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	key, err := resolveSwitch(args[0])
	if err != nil {
		return err
	}
	on, err := parseOnOff(args[1])
	if err != nil {
		return err
	}
	if _, err := c.invoke("SetSwitch", map[string]any{"switch": string(key), "on": on}); err != nil {
		return err
	}
	if c.out.json {
		return c.out.printJSON(map[string]any{"switch": string(key), "on": on})
	}
	fmt.Printf("%s -> %s\n", key, onOff(on))
	return nil
}

func comovementCmd(c *cli, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	mode, err := strconv.Atoi(args[0])
	if err != nil || mode < 0 {
		return fmt.Errorf("mode must be a non-negative integer, got %q", args[0])
	}
	if _, err := c.invoke("SetComovement", map[string]any{"mode": mode}); err != nil {
		return err
	}
	if c.out.json {
		return c.out.printJSON(map[string]any{"comovement": mode})
	}
	fmt.Printf("comovement -> %d\n", mode)
	return nil
}

func commandsCmd(c *cli, args []string) error {
	flags := flag.NewFlagSet("commands", flag.ContinueOnError)
	limit := flags.Int("limit", 20, "Number of commands to show")
	if err := flags.Parse(args); err != nil {
		return errUsage
	}

	resp, err := c.invoke("ListCommands", map[string]any{"limit": *limit})
	if err != nil {
		return err
	}
	if c.out.json {
		return c.out.printJSON(resp.AsMap())
	}
	rows := [][]string{{"TIME", "FIELDS", "RESULT", "ATTEMPTS", "ERROR"}}
	for _, value := range resp.GetFields()["commands"].GetListValue().GetValues() {
		row := value.GetStructValue().GetFields()
		rows = append(rows, []string{
			row["created_at"].GetStringValue(),
			formatFields(row["fields"].GetStructValue()),
			row["result"].GetStringValue(),
			strconv.Itoa(int(row["attempts"].GetNumberValue())),
			row["error"].GetStringValue(),
		})
	}
	c.out.table(rows)
	return nil
}

func parseOnOff(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "1", "true":
		return true, nil
	case "off", "0", "false":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", value)
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

func formatFields(fields *structpb.Struct) string {
	parts := make([]string, 0, len(fields.GetFields()))
	for key, value := range fields.AsMap() {
		parts = append(parts, fmt.Sprintf("%s=%v", key, value))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
