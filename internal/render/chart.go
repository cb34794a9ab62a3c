// Package render draws recent observations as a candlestick PNG for the
// dashboard, using an in-memory echarts page screenshotted by the headless
// browser.
package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"candlesight/internal/types"
)

const (
	colorBackground = "#0b1020"
	colorText       = "#eceff4"
	colorBull       = "#34d399"
	colorBear       = "#f87171"

	chartWidthPx  = 1200
	chartHeightPx = 520
)

// Image is one rendered chart.
type Image struct {
	Bytes    []byte `json:"-"`
	Filename string `json:"filename"`
}

// RecentChart renders the observations (oldest first) as a kline PNG.
func RecentChart(ctx context.Context, pair string, observations []types.CandleObservation) (Image, error) {
	if len(observations) == 0 {
		return Image{}, fmt.Errorf("render: no observations for %s", pair)
	}
	html, err := buildHTML(pair, observations)
	if err != nil {
		return Image{}, err
	}
	png, err := htmlToPNG(ctx, html, chartWidthPx, chartHeightPx)
	if err != nil {
		return Image{}, err
	}
	return Image{
		Bytes:    png,
		Filename: fmt.Sprintf("%s_recent.png", strings.ToLower(pair)),
	}, nil
}

func buildHTML(pair string, observations []types.CandleObservation) ([]byte, error) {
	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", chartHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:      fmt.Sprintf("%s recent candles", strings.ToUpper(pair)),
			TitleStyle: &opts.TextStyle{Color: colorText},
		}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)

	xAxis := make([]string, len(observations))
	data := make([]opts.KlineData, len(observations))
	for i, obs := range observations {
		xAxis[i] = obs.Timestamp.Format("15:04:05")
		data[i] = opts.KlineData{Value: [4]float64{obs.Open, obs.Close, obs.Low, obs.High}}
	}
	kline.SetXAxis(xAxis)
	kline.AddSeries(pair, data)

	page := components.NewPage()
	page.AddCharts(kline)
	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func htmlToPNG(ctx context.Context, html []byte, width, height int) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()
	timeoutCtx, cancelTimeout := context.WithTimeout(parent, 20*time.Second)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1200 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 0),
	}
	if err := chromedp.Run(timeoutCtx, tasks); err != nil {
		return nil, err
	}
	return screenshot, nil
}
