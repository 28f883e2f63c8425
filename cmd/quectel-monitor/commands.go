package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/nexmodem/qcore/modem"
)

// runCommandLoop reads newline-delimited commands from r until EOF or ctx
// is done, the interactive counterpart to the HTTP /sms endpoint the
// teacher's server.go exposed. Supported commands:
//
//	send-sms <number> <message...>
//	send-ussd <code>
//	dial <number>
//	list-sms <stat>
//	debug
//	quit
func runCommandLoop(ctx context.Context, r io.Reader, m *modem.Modem, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := runCommand(ctx, line, m, logger); err != nil {
			fmt.Println("error:", err)
		}
	}
}

func runCommand(ctx context.Context, line string, m *modem.Modem, logger *slog.Logger) error {
	logger.Debug("command", "line", line)
	fields := strings.SplitN(line, " ", 3)
	switch fields[0] {
	case "send-sms":
		if len(fields) < 3 {
			return fmt.Errorf("usage: send-sms <number> <message>")
		}
		uid, err := m.SendSMS(ctx, fields[1], fields[2])
		if err != nil {
			return err
		}
		fmt.Println("queued uid:", uid)
		return nil
	case "send-ussd":
		if len(fields) < 2 {
			return fmt.Errorf("usage: send-ussd <code>")
		}
		return m.SendUSSD(fields[1])
	case "dial":
		if len(fields) < 2 {
			return fmt.Errorf("usage: dial <number>")
		}
		return m.Dial(fields[1], "", false)
	case "list-sms":
		if len(fields) < 2 {
			return fmt.Errorf("usage: list-sms <stat>")
		}
		stat, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Errorf("usage: list-sms <stat>: %w", err)
		}
		m.ListSMS(stat)
		return nil
	case "debug":
		spew.Dump(m.Stats())
		return nil
	case "quit", "exit":
		return m.Close()
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}
