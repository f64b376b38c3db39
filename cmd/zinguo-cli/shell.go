package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/c-bata/go-prompt"
	"golang.org/x/term"

	"github.com/joshp123/zinguo/plugins/zinguo"
)

// shellCmd reads commands from an interactive prompt on the already open
// connection. Each line gets its own timeout.
func shellCmd(c *cli, args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return errors.New("shell needs an interactive terminal")
	}

	table := shellTable()
	fmt.Println("zinguo shell. Tab completes, exit or Ctrl-D quits.")
	p := prompt.New(
		func(line string) { runShellLine(c, table, line) },
		func(d prompt.Document) []prompt.Suggest {
			return shellSuggestions(table, d.TextBeforeCursor())
		},
		prompt.OptionPrefix("zinguo> "),
		prompt.OptionTitle("zinguo-cli"),
		prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
			return breakline && isShellExit(in)
		}),
	)
	p.Run()
	return nil
}

// shellTable is every command except shell itself.
func shellTable() []command {
	var table []command
	for _, cmd := range commandTable() {
		if cmd.name != "shell" {
			table = append(table, cmd)
		}
	}
	return table
}

func isShellExit(line string) bool {
	line = strings.TrimSpace(line)
	return line == "exit" || line == "quit"
}

func runShellLine(c *cli, table []command, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 || isShellExit(line) {
		return
	}
	if fields[0] == "help" {
		printUsage(os.Stdout, table)
		return
	}
	cmd, ok := lookup(table, fields[0])
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q, try help\n", fields[0])
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	sub := *c
	sub.ctx = ctx
	if err := cmd.run(&sub, fields[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "usage: %s %s\n", cmd.name, cmd.args)
			return
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd.name, err)
	}
}

// shellSuggestions completes command names, then switch names and on/off
// for the switch command.
func shellSuggestions(table []command, before string) []prompt.Suggest {
	words := strings.Fields(before)
	if strings.HasSuffix(before, " ") || before == "" {
		words = append(words, "")
	}
	current := words[len(words)-1]

	var candidates []prompt.Suggest
	switch {
	case len(words) == 1:
		for _, cmd := range table {
			candidates = append(candidates, prompt.Suggest{Text: cmd.name, Description: cmd.help})
		}
		candidates = append(candidates,
			prompt.Suggest{Text: "help", Description: "list commands"},
			prompt.Suggest{Text: "exit", Description: "leave the shell"},
		)
	case words[0] == "switch" && len(words) == 2:
		for _, key := range zinguo.SwitchKeys() {
			candidates = append(candidates, prompt.Suggest{Text: strings.Replace(string(key), "_switch", "", 1)})
		}
	case words[0] == "switch" && len(words) == 3:
		candidates = []prompt.Suggest{{Text: "on"}, {Text: "off"}}
	case words[0] == "plugins" && len(words) == 2:
		candidates = []prompt.Suggest{{Text: "list"}, {Text: "describe"}}
	case words[0] == "rpc" && len(words) == 2:
		candidates = []prompt.Suggest{{Text: "services"}, {Text: "methods"}, {Text: "call"}}
	default:
		return nil
	}
	return prompt.FilterHasPrefix(candidates, current, true)
}
