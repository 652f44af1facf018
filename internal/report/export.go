package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"feedload/internal/driver"
)

// ExportCSV exports outcomes to a JMeter-compatible CSV file.
// Schema: timeStamp,elapsed,label,responseCode,responseMessage,threadName,dataType,success,failureMessage,bytes,sentBytes,grpThreads,allThreads,URL,Latency,IdleTime,Connect
func ExportCSV(outcomes []driver.RequestOutcome, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)

	header := []string{
		"timeStamp", "elapsed", "label", "responseCode", "responseMessage",
		"threadName", "dataType", "success", "failureMessage", "bytes",
		"sentBytes", "grpThreads", "allThreads", "URL", "Latency", "IdleTime", "Connect",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, o := range outcomes {
		record := []string{
			strconv.FormatInt(o.Timestamp.UnixMilli(), 10),
			strconv.FormatInt(o.Latency.Milliseconds(), 10),
			o.Method + " " + o.Endpoint,
			strconv.Itoa(o.Status),
			http.StatusText(o.Status),
			fmt.Sprintf("%s VU-%d", o.Region, o.VU),
			"text",
			strconv.FormatBool(o.Success),
			failureMessage(o),
			strconv.FormatInt(o.Bytes, 10),
			"0", // sent bytes are not tracked
			"1",
			"1",
			o.URL,
			strconv.FormatInt(o.Latency.Milliseconds(), 10),
			"0",
			"0", // connect time is part of the latency
		}

		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

// ExportJSON exports the raw outcomes to a JSON file.
func ExportJSON(outcomes []driver.RequestOutcome, filename string) error {
	data, err := json.MarshalIndent(outcomes, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

func failureMessage(o driver.RequestOutcome) string {
	if o.Err != "" {
		return o.Err
	}
	for _, c := range o.Checks {
		if !c.Passed {
			return "check failed: " + c.Name
		}
	}
	return ""
}

// ExportAnalysisCSV writes one row per analyzed summary.
func ExportAnalysisCSV(a Analysis, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"region", "file", "total_requests", "failed_requests", "avg_duration",
		"p95_duration", "max_duration", "requests_per_sec", "passed",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, r := range a.Results {
		record := []string{
			r.Region,
			r.File,
			strconv.Itoa(r.Requests),
			strconv.FormatFloat(r.ErrorPct, 'f', 2, 64),
			strconv.FormatFloat(r.AvgMs, 'f', 2, 64),
			strconv.FormatFloat(r.P95Ms, 'f', 2, 64),
			strconv.FormatFloat(r.MaxMs, 'f', 2, 64),
			strconv.FormatFloat(r.RequestRate, 'f', 2, 64),
			strconv.FormatBool(r.Passed),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}
