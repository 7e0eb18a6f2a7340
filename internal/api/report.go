package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// deviceReport renders a device's rate history as a standalone HTML line
// chart. It is a debugging view: point a browser at it to eyeball a sensor
// without standing up a dashboard.
func (s *Server) deviceReport(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	start, ok := parseUnixParam(r, "start")
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'start' parameter")
		return
	}
	end, ok := parseUnixParam(r, "end")
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'end' parameter")
		return
	}

	results, err := s.store.ListByDevice(deviceID, limit, start, end)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list results: %v", err))
		return
	}
	if len(results) == 0 {
		s.writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no results for device %q", deviceID))
		return
	}

	// ListByDevice returns newest first; the chart reads left to right.
	times := make([]string, 0, len(results))
	rates := make([]opts.LineData, 0, len(results))
	minRates := make([]opts.LineData, 0, len(results))
	maxRates := make([]opts.LineData, 0, len(results))
	lowConfidence := 0
	for i := len(results) - 1; i >= 0; i-- {
		res := &results[i]
		times = append(times, time.Unix(res.CreatedAt, 0).UTC().Format("2006-01-02 15:04:05"))
		rates = append(rates, opts.LineData{Value: res.BreathingRateBPM})
		minRates = append(minRates, opts.LineData{Value: res.MinRate})
		maxRates = append(maxRates, opts.LineData{Value: res.MaxRate})
		if res.LowConfidence {
			lowConfidence++
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: fmt.Sprintf("Breathing Rate: %s", deviceID),
			Theme:     "dark",
			Width:     "1200px",
			Height:    "600px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Breathing rate history: %s", deviceID),
			Subtitle: fmt.Sprintf("%d results, %d low confidence", len(results), lowConfidence),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "time (UTC)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "breaths/min"}),
	)

	line.SetXAxis(times).
		AddSeries("bpm", rates,
			charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)})).
		AddSeries("min", minRates,
			charts.WithLineStyleOpts(opts.LineStyle{Width: 1, Type: "dashed"})).
		AddSeries("max", maxRates,
			charts.WithLineStyleOpts(opts.LineStyle{Width: 1, Type: "dashed"}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}
