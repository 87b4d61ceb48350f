// Package render draws analysis results as SVG lane charts.
package render

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"math"
	"strings"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/tracelane/tracelane/pkg/timeline"
)

// Options controls the chart layout.
type Options struct {
	Width     int
	RowHeight int

	// FullNames labels rows with the whole lane key.
	FullNames bool

	// ShowActive adds the active-jobs subplot.
	ShowActive bool

	Saturation float64
	Value      float64
}

// DefaultOptions returns the default chart layout.
func DefaultOptions() Options {
	return Options{
		Width:      1600,
		RowHeight:  30,
		Saturation: 0.85,
		Value:      0.95,
	}
}

// activeLine is the colour of the active-jobs curve.
var activeLine = colorful.Color{R: 0x1f / 255.0, G: 0x77 / 255.0, B: 0xb4 / 255.0}

const (
	marginLeft   = 140
	marginRight  = 30
	marginTop    = 40
	marginBottom = 50
	legendItemW  = 180
	legendItemH  = 20
	barHeight    = 16
	subplotGap   = 60
	fontFamily   = "sans-serif"
)

// FileName is the chart file name for a result: name-size-version.svg.
func FileName(res *timeline.Result) string {
	return res.Workflow.Stem() + ".svg"
}

type chart struct {
	buf  *bytes.Buffer
	opts Options

	plotLeft, plotWidth float64
	maxTime             float64
}

func (c *chart) x(t float64) float64 {
	return c.plotLeft + t/c.maxTime*c.plotWidth
}

func (c *chart) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.buf, format, args...)
	c.buf.WriteByte('\n')
}

// Render writes the chart for res to w.
func Render(w io.Writer, res *timeline.Result, opts Options) error {
	if opts.Width <= 0 {
		opts.Width = DefaultOptions().Width
	}
	if opts.RowHeight <= 0 {
		opts.RowHeight = DefaultOptions().RowHeight
	}

	rows := Rows(res, opts.FullNames)
	colors := TaskColors(res.TaskTypes, opts.Saturation, opts.Value)

	c := &chart{
		buf:       &bytes.Buffer{},
		opts:      opts,
		plotLeft:  marginLeft,
		plotWidth: float64(opts.Width - marginLeft - marginRight),
		maxTime:   AxisMax(res),
	}
	if c.maxTime <= 0 {
		c.maxTime = 1
	}

	perLine := int(c.plotWidth) / legendItemW
	if perLine < 1 {
		perLine = 1
	}
	legendLines := (len(res.TaskTypes) + perLine - 1) / perLine
	legendTop := float64(marginTop)
	plotTop := legendTop + float64(legendLines*legendItemH) + 10
	plotHeight := float64(len(rows) * opts.RowHeight)
	if plotHeight == 0 {
		plotHeight = float64(opts.RowHeight)
	}

	height := plotTop + plotHeight + marginBottom
	var activeTop, activeHeight float64
	if opts.ShowActive {
		activeTop = height + subplotGap - marginBottom
		activeHeight = math.Max(120, plotHeight/3)
		height = activeTop + activeHeight + marginBottom
	}

	c.printf(`<?xml version="1.0" encoding="UTF-8"?>`)
	c.printf(`<svg width="%d" height="%d" xmlns="http://www.w3.org/2000/svg" font-family="%s" font-size="12">`,
		opts.Width, int(math.Ceil(height)), fontFamily)
	c.printf(`<rect width="100%%" height="100%%" fill="white"/>`)
	c.printf(`<text x="%d" y="24" text-anchor="middle" font-size="16">Workflow: %s</text>`,
		opts.Width/2, html.EscapeString(res.Workflow.Name))

	c.legend(res.TaskTypes, colors, legendTop, perLine)
	c.shading(rows, plotTop)
	c.axes(plotTop, plotHeight, "Time [s]")
	c.rowLabels(rows, plotTop)
	c.bars(res, rows, colors, plotTop)

	if opts.ShowActive {
		c.axes(activeTop, activeHeight, "Time [s]")
		c.activity(res.Activity, activeTop, activeHeight)
	}

	c.printf(`</svg>`)
	_, err := w.Write(c.buf.Bytes())
	return err
}

// RenderBytes renders the chart into memory.
func RenderBytes(res *timeline.Result, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	if err := Render(&buf, res, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *chart) legend(taskTypes []string, colors map[string]string, top float64, perLine int) {
	c.printf(`<g class="legend">`)
	for i, t := range taskTypes {
		x := c.plotLeft + float64((i%perLine)*legendItemW)
		y := top + float64((i/perLine)*legendItemH)
		c.printf(`<rect x="%.1f" y="%.1f" width="14" height="14" fill="%s"/>`, x, y, colors[t])
		c.printf(`<text x="%.1f" y="%.1f">%s</text>`, x+20, y+11, html.EscapeString(t))
	}
	c.printf(`</g>`)
}

func (c *chart) shading(rows []Row, top float64) {
	rh := float64(c.opts.RowHeight)
	for i, r := range rows {
		if !r.Shaded {
			continue
		}
		c.printf(`<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" fill="gray" fill-opacity="0.2"/>`,
			c.plotLeft, top+float64(i)*rh, c.plotWidth, rh)
	}
}

func (c *chart) axes(top, height float64, xlabel string) {
	bottom := top + height
	c.printf(`<g class="axis" stroke="#ccc" stroke-width="1">`)
	for _, tick := range Ticks(c.maxTime, 10) {
		x := c.x(tick)
		c.printf(`<line x1="%.1f" y1="%.1f" x2="%.1f" y2="%.1f"/>`, x, top, x, bottom)
	}
	c.printf(`</g>`)
	for _, tick := range Ticks(c.maxTime, 10) {
		c.printf(`<text x="%.1f" y="%.1f" text-anchor="middle">%s</text>`,
			c.x(tick), bottom+16, formatTick(tick))
	}
	c.printf(`<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" fill="none" stroke="black"/>`,
		c.plotLeft, top, c.plotWidth, height)
	c.printf(`<text x="%.1f" y="%.1f" text-anchor="middle">%s</text>`,
		c.plotLeft+c.plotWidth/2, bottom+36, xlabel)
}

func formatTick(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%d", int64(v))
	}
	return strings.TrimRight(fmt.Sprintf("%.2f", v), "0")
}

func (c *chart) rowLabels(rows []Row, top float64) {
	rh := float64(c.opts.RowHeight)
	for i, r := range rows {
		c.printf(`<text x="%.1f" y="%.1f" text-anchor="end">%s</text>`,
			c.plotLeft-6, top+float64(i)*rh+rh/2+4, html.EscapeString(r.Label))
	}
}

func (c *chart) bars(res *timeline.Result, rows []Row, colors map[string]string, top float64) {
	rh := float64(c.opts.RowHeight)
	for i, r := range rows {
		y := top + float64(i)*rh + rh/2 - barHeight/2
		for _, id := range r.Jobs {
			bar, ok := res.Bars[id]
			if !ok {
				continue
			}
			task := res.TaskType(id)
			x0, x1 := c.x(bar.Start), c.x(bar.End)
			title := fmt.Sprintf("%s\nJob ID: %s\nStart: %.2fs\nEnd: %.2fs", task, id, bar.Start, bar.End)
			c.printf(`<rect x="%.2f" y="%.1f" width="%.2f" height="%d" fill="%s" data-job="%s"><title>%s</title></rect>`,
				x0, y, math.Max(x1-x0, 0), barHeight, colors[task], html.EscapeString(id), html.EscapeString(title))
		}
	}
}

// activity draws the post-step active-jobs curve.
func (c *chart) activity(samples []timeline.Sample, top, height float64) {
	if len(samples) == 0 {
		return
	}
	peak := timeline.Peak(samples).Active
	if peak < 1 {
		peak = 1
	}
	y := func(v int) float64 {
		return top + height - float64(v)/float64(peak)*(height-10)
	}

	var pts []string
	prev := samples[0]
	pts = append(pts, fmt.Sprintf("%.2f,%.2f", c.x(prev.Offset), y(prev.Active)))
	for _, s := range samples[1:] {
		pts = append(pts, fmt.Sprintf("%.2f,%.2f", c.x(s.Offset), y(prev.Active)))
		pts = append(pts, fmt.Sprintf("%.2f,%.2f", c.x(s.Offset), y(s.Active)))
		prev = s
	}
	if prev.Offset < c.maxTime {
		pts = append(pts, fmt.Sprintf("%.2f,%.2f", c.x(c.maxTime), y(prev.Active)))
	}

	last := c.x(math.Max(prev.Offset, c.maxTime))
	area := append(append([]string(nil), pts...), fmt.Sprintf("%.2f,%.2f", last, y(0)), fmt.Sprintf("%.2f,%.2f", c.x(samples[0].Offset), y(0)))
	c.printf(`<polygon points="%s" fill="%s" stroke="none"/>`, strings.Join(area, " "), Lighten(activeLine, 0.25).Hex())
	c.printf(`<polyline points="%s" fill="none" stroke="%s" stroke-width="1.5"/>`,
		strings.Join(pts, " "), activeLine.Hex())
	c.printf(`<text x="%.1f" y="%.1f" fill="%s">Active jobs (peak %d)</text>`,
		c.plotLeft+8, top+16, activeLine.Hex(), timeline.Peak(samples).Active)
	c.printf(`<text x="%.1f" y="%.1f" text-anchor="end">%d</text>`, c.plotLeft-6, y(peak)+4, peak)
	c.printf(`<text x="%.1f" y="%.1f" text-anchor="end">0</text>`, c.plotLeft-6, y(0)+4)
}
