package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"codeberg.org/mutker/fogpdm/internal/errors"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Encode renders the report as JSON or YAML.
func (r *Report) Encode(format string) ([]byte, error) {
	errFactory := errors.New()

	switch strings.ToLower(format) {
	case FormatJSON, "":
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return nil, errFactory.Wrap(ErrEncode, err)
		}
		return append(data, '\n'), nil
	case FormatYAML, "yml":
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return nil, errFactory.Wrap(ErrEncode, err)
		}
		if err := enc.Close(); err != nil {
			return nil, errFactory.Wrap(ErrEncode, err)
		}
		return buf.Bytes(), nil
	default:
		return nil, errFactory.WithData(ErrUnknownFormat, format)
	}
}

// Decode parses a report previously produced by Encode.
func Decode(data []byte, format string) (*Report, error) {
	errFactory := errors.New()

	var r Report
	var err error
	switch strings.ToLower(format) {
	case FormatJSON, "":
		err = json.Unmarshal(data, &r)
	case FormatYAML, "yml":
		err = yaml.Unmarshal(data, &r)
	default:
		return nil, errFactory.WithData(ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, errFactory.Wrap(ErrDecode, err)
	}
	return &r, nil
}

// WriteFile writes the encoded report to path, creating parent directories.
func (r *Report) WriteFile(path, format string) error {
	errFactory := errors.New()

	data, err := r.Encode(format)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errFactory.Wrap(errors.ErrWriteReport, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errFactory.Wrap(errors.ErrWriteReport, err)
	}
	return nil
}

// Print writes a human readable summary to w.
func (r *Report) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "Run %s\n", r.RunID)
	if !r.FinishedAt.IsZero() {
		fmt.Fprintf(tw, "Finished\t%s (%s)\n", r.FinishedAt.Format(time.RFC3339), humanize.Time(r.FinishedAt))
	}
	fmt.Fprintf(tw, "Elapsed\t%s\n", time.Duration(r.Elapsed*float64(time.Second)).Round(time.Millisecond))
	fmt.Fprintf(tw, "Machines\t%d (threshold %.2f, source %s, edge %s, cloud %s)\n",
		r.Config.Machines, r.Config.Threshold, r.Config.Source, r.Config.Edge, r.Config.Cloud)
	fmt.Fprintf(tw, "Predictions\t%s\n", humanize.Comma(int64(r.Total)))
	fmt.Fprintf(tw, "Faults detected\t%s\n", humanize.Comma(int64(r.FaultsDetected)))
	fmt.Fprintf(tw, "Escalations\t%s (%s%%)\n", humanize.Comma(int64(r.Escalations)), humanize.FtoaWithDigits(r.EscalationRate, 1))
	fmt.Fprintf(tw, "Accuracy\t%s%% of %s labeled\t%s\n",
		humanize.FtoaWithDigits(r.Accuracy, 1), humanize.Comma(int64(r.Labeled)), r.Status)
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "TIER\tHANDLED\tSHARE\tACCURACY\tFAULTS\tLATENCY MIN/AVG/MAX (ms)")
	for _, t := range r.Tiers {
		fmt.Fprintf(tw, "%s\t%s\t%s%%\t%s%%\t%s\t%.2f / %.2f / %.2f\n",
			t.Tier,
			humanize.Comma(int64(t.Handled)),
			humanize.FtoaWithDigits(t.Share, 1),
			humanize.FtoaWithDigits(t.Accuracy, 1),
			humanize.Comma(int64(t.FaultsDetected)),
			t.LatencyMin, t.LatencyAvg, t.LatencyMax)
	}

	if len(r.Machines) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "MACHINE\tPREDICTIONS\tFAULTS\tFAULT RATE")
		for _, m := range r.Machines {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s%%\n",
				m.MachineID,
				humanize.Comma(int64(m.Predictions)),
				humanize.Comma(int64(m.FaultsDetected)),
				humanize.FtoaWithDigits(m.FaultRate, 1))
		}
	}

	if len(r.Abandoned) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintf(tw, "Abandoned monitors\t%v\n", r.Abandoned)
	}

	if err := tw.Flush(); err != nil {
		return errors.New().Wrap(errors.ErrWriteReport, err)
	}
	return nil
}
