package output

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/oklog/ulid/v2"

	"github.com/torosent/stampede/internal/config"
)

// Sink receives the final report of a run.
type Sink interface {
	Report(ctx context.Context, r RunReport) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r RunReport) error

func (f SinkFunc) Report(ctx context.Context, r RunReport) error { return f(ctx, r) }

// NewPrinter returns a sink writing the report to w in format.
func NewPrinter(format config.OutputFormat, w io.Writer) (Sink, error) {
	switch format {
	case config.OutputText, "":
		return SinkFunc(func(_ context.Context, r RunReport) error {
			PrintReport(w, r)
			return nil
		}), nil
	case config.OutputJSON:
		return SinkFunc(func(_ context.Context, r RunReport) error {
			return PrintJSONReport(w, r)
		}), nil
	case config.OutputYAML:
		return SinkFunc(func(_ context.Context, r RunReport) error {
			return PrintYAMLReport(w, r)
		}), nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

// MultiSink delivers to every sink in order and joins their errors.
type MultiSink []Sink

func (m MultiSink) Report(ctx context.Context, r RunReport) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Report(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewRunID returns a sortable unique run identifier.
func NewRunID() string {
	return ulid.Make().String()
}
