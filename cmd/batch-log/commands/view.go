// Package commands implements the batch-log CLI commands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/geoyin/openpbs/pkg/batch"
	"github.com/geoyin/openpbs/pkg/log"
)

const timeLayout = "2006-01-02T15:04:05.000000Z"

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Layer      *log.Layer
	Direction  *log.Direction
	Category   *log.Category
	Operation  *batch.Operation
	ErrorsOnly bool
}

func (f ViewFilter) logFilter() log.Filter {
	lf := log.Filter{
		Layer:      f.Layer,
		Direction:  f.Direction,
		Category:   f.Category,
		ErrorsOnly: f.ErrorsOnly,
	}
	if f.Operation != nil {
		op := int(*f.Operation)
		lf.Operation = &op
	}
	return lf
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// timestamp [conn:id] DIRECTION LAYER Type
	ts := event.Timestamp.UTC().Format(timeLayout)
	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s\n", ts, shortenConnID(event.ConnectionID),
		event.Direction.String(), event.Layer.String(), eventType(event))

	if event.RemoteAddr != "" {
		fmt.Fprintf(w, "  Peer: %s (%s)\n", event.RemoteAddr, event.LocalRole)
	}

	switch {
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	case event.Message != nil:
		formatMessageDetails(w, event.Message)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

func eventType(event log.Event) string {
	switch {
	case event.Frame != nil:
		return "Frame"
	case event.Message != nil:
		return event.Message.Type.String()
	case event.StateChange != nil:
		return "State"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatFrameDetails(w io.Writer, frame *log.FrameEvent) {
	fmt.Fprintf(w, "  Size: %d bytes\n", frame.Size)
	if len(frame.Digest) > 0 {
		fmt.Fprintf(w, "  Digest: %s\n", hex.EncodeToString(frame.Digest))
	}
	if len(frame.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(frame.Data))
		if frame.Truncated {
			fmt.Fprint(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func formatMessageDetails(w io.Writer, msg *log.MessageEvent) {
	fmt.Fprintf(w, "  Operation: %s\n", operationName(msg))
	if msg.User != "" {
		fmt.Fprintf(w, "  User: %s\n", msg.User)
	}
	if msg.Object != "" {
		fmt.Fprintf(w, "  Object: %s\n", msg.Object)
	}

	if msg.Type == log.MessageTypeReply {
		if msg.Code != nil {
			code := batch.Code(*msg.Code)
			if code == 0 {
				fmt.Fprintln(w, "  Code: 0")
			} else {
				fmt.Fprintf(w, "  Code: %d (%s)\n", *msg.Code, code.Message())
			}
		}
		if msg.Aux != nil && *msg.Aux != 0 {
			fmt.Fprintf(w, "  Aux: %d\n", *msg.Aux)
		}
		if msg.Choice != nil {
			fmt.Fprintf(w, "  Choice: %d\n", *msg.Choice)
		}
		if msg.ProcessingTime != nil {
			fmt.Fprintf(w, "  Duration: %s\n", formatDuration(*msg.ProcessingTime))
		}
	}
}

func operationName(msg *log.MessageEvent) string {
	if msg.OperationName != "" {
		return msg.OperationName
	}
	return batch.Operation(msg.Operation).String()
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Code != nil {
		fmt.Fprintf(w, "  Code: %d\n", *err.Code)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.3fus", float64(d.Nanoseconds())/1000)
	}
	if d < time.Second {
		return fmt.Sprintf("%.3fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}

// ParseLayerFlag parses a layer name (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "wire":
		return log.LayerWire, nil
	case "service":
		return log.LayerService, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be transport, wire, or service)", s)
	}
}

// ParseDirectionFlag parses a direction name (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category name (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, state, or error)", s)
	}
}

// ParseOperationFlag parses a request type given by name or number.
func ParseOperationFlag(s string) (batch.Operation, error) {
	if op, ok := batch.ParseOperation(s); ok {
		return op, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return batch.Operation(n), nil
	}
	return 0, fmt.Errorf("invalid operation: %s", s)
}

// RunView writes the matching events of the log file to output.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter.logFilter())
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}
	return nil
}
