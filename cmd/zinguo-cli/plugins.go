package main

import (
	"fmt"

	"github.com/joshp123/zinguo/internal/core"
	"github.com/joshp123/zinguo/internal/rpc"
)

func pluginsCmd(c *cli, args []string) error {
	switch {
	case len(args) == 1 && args[0] == "list":
		return listPlugins(c)
	case len(args) == 2 && args[0] == "describe":
		return describePlugin(c, args[1])
	default:
		return errUsage
	}
}

func listPlugins(c *cli) error {
	resp, err := rpc.Invoke(c.ctx, c.conn, core.RegistryServiceName, "ListPlugins", nil)
	if err != nil {
		return err
	}
	if c.out.json {
		return c.out.printJSON(resp.AsMap())
	}
	rows := [][]string{{"ID", "NAME", "VERSION", "STATUS"}}
	for _, value := range resp.GetFields()["plugins"].GetListValue().GetValues() {
		plugin := value.GetStructValue().GetFields()
		rows = append(rows, []string{
			plugin["plugin_id"].GetStringValue(),
			plugin["display_name"].GetStringValue(),
			plugin["version"].GetStringValue(),
			plugin["status"].GetStringValue(),
		})
	}
	c.out.table(rows)
	return nil
}

func describePlugin(c *cli, id string) error {
	resp, err := rpc.Invoke(c.ctx, c.conn, core.RegistryServiceName, "DescribePlugin", map[string]any{"plugin_id": id})
	if err != nil {
		return err
	}
	if c.out.json {
		return c.out.printJSON(resp.AsMap())
	}

	plugin := resp.GetFields()["plugin"].GetStructValue().GetFields()
	c.out.table([][]string{
		{"id:", plugin["plugin_id"].GetStringValue()},
		{"name:", plugin["display_name"].GetStringValue()},
		{"version:", plugin["version"].GetStringValue()},
		{"status:", plugin["status"].GetStringValue()},
		{"health:", plugin["health_message"].GetStringValue()},
	})
	for _, svc := range plugin["services"].GetListValue().GetValues() {
		fmt.Printf("service %s\n", svc.GetStringValue())
	}
	for _, dash := range plugin["dashboards"].GetListValue().GetValues() {
		fields := dash.GetStructValue().GetFields()
		fmt.Printf("dashboard %s at %s\n", fields["name"].GetStringValue(), fields["path"].GetStringValue())
	}
	if doc := plugin["agents_md"].GetStringValue(); doc != "" {
		fmt.Println()
		fmt.Println(doc)
	}
	return nil
}
