package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fullstorydev/grpcurl"
	"github.com/jhump/protoreflect/grpcreflect"
	"golang.org/x/term"
)

// rpcCmd talks to any service zinguod exposes, using server reflection for
// descriptors since services are built at runtime.
func rpcCmd(c *cli, args []string) error {
	if len(args) == 0 {
		return errUsage
	}

	client := grpcreflect.NewClientAuto(c.ctx, c.conn)
	defer client.Reset()
	source := grpcurl.DescriptorSourceFromServer(c.ctx, client)

	switch args[0] {
	case "services":
		services, err := grpcurl.ListServices(source)
		if err != nil {
			return err
		}
		printLines(services)
	case "methods":
		if len(args) != 2 {
			return errUsage
		}
		methods, err := grpcurl.ListMethods(source, args[1])
		if err != nil {
			return err
		}
		printLines(methods)
	case "call":
		return callRPC(c, source, args[1:])
	default:
		return errUsage
	}
	return nil
}

func callRPC(c *cli, source grpcurl.DescriptorSource, args []string) error {
	flags := flag.NewFlagSet("call", flag.ContinueOnError)
	data := flags.String("data", "", "JSON request body (default: stdin when piped, else {})")
	if err := flags.Parse(args); err != nil || flags.NArg() != 1 {
		return errUsage
	}

	parser, formatter, err := grpcurl.RequestParserAndFormatter(grpcurl.FormatJSON, source, requestBody(*data), grpcurl.FormatOptions{})
	if err != nil {
		return fmt.Errorf("parse request: %w", err)
	}
	handler := grpcurl.NewDefaultEventHandler(os.Stdout, source, formatter, false)
	if err := grpcurl.InvokeRPC(c.ctx, source, c.conn, flags.Arg(0), nil, handler, parser.Next); err != nil {
		return err
	}
	if handler.Status != nil {
		return handler.Status.Err()
	}
	return nil
}

func requestBody(data string) io.Reader {
	if data != "" {
		return strings.NewReader(data)
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return os.Stdin
	}
	return strings.NewReader("{}")
}

func printLines(lines []string) {
	for _, line := range lines {
		fmt.Println(line)
	}
}
