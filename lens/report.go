package lens

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-analyze/bulk"
	"github.com/go-analyze/charts"
	"github.com/vmihailenco/msgpack/v5"
)

const bottomTableMaxRecords = 12

// chart color constants
var greenTextColor = charts.ColorGreenAlt3
var orangeTextColor = charts.ColorOrangeAlt1.WithAdjustHSL(0, .2, 0)
var redTextColor = charts.ColorRed.WithAdjustHSL(0, .1, -.1)

// ReportMetrics contains the run summary written as the JSON report.
type ReportMetrics struct {
	GeneratedAt  time.Time       `json:"generated_at"`
	RunDuration  int64           `json:"run_ms"`
	ScanDuration int64           `json:"scan_ms"`
	Project      ProjectMetrics  `json:"project"`
	CallSites    CallSiteMetrics `json:"call_sites"`
	Files        []FileMetrics   `json:"files"`
}

// ProjectMetrics describes the rewritten project and the configuration used.
type ProjectMetrics struct {
	ProjectDir        string   `json:"project_dir"`
	TrackedObject     string   `json:"tracked_object"`
	TrackedNames      []string `json:"tracked_names"`
	InjectedCall      string   `json:"injected_call"`
	DryRun            bool     `json:"dry_run"`
	FilesScanned      int      `json:"files_scanned"`
	FilesRewritten    int      `json:"files_rewritten"`
	FilesFailedVerify int      `json:"files_failed_verify"`
	CacheHits         int64    `json:"cache_hits"`
	CacheMisses       int64    `json:"cache_misses"`
}

// CallSiteMetrics aggregates the call sites found across all files.
type CallSiteMetrics struct {
	CallSiteCount     int            `json:"call_site_count"`
	UnterminatedCount int            `json:"unterminated_count"`
	ArgCount          int            `json:"arg_count"`
	NameableArgCount  int            `json:"nameable_arg_count"`
	FunctionCounts    map[string]int `json:"function_counts"`
}

// FileMetrics summarizes a single file which contained tracked calls.
type FileMetrics struct {
	Path             string `json:"path"`
	CallSiteCount    int    `json:"call_site_count"`
	ArgCount         int    `json:"arg_count"`
	NameableArgCount int    `json:"nameable_arg_count"`
	Unterminated     int    `json:"unterminated_count"`
	Changed          bool   `json:"changed"`
	VerifyError      string `json:"verify_error,omitempty"`
}

// BuildReportMetrics summarizes the results of a project rewrite.
func BuildReportMetrics(startTime time.Time, scanDuration time.Duration, projectDir string, opts RewriterOptions,
	dryRun bool, results []FileResult, cacheHits, cacheMisses int64) ReportMetrics {
	report := ReportMetrics{
		GeneratedAt:  time.Now().UTC(),
		RunDuration:  time.Since(startTime).Milliseconds(),
		ScanDuration: scanDuration.Milliseconds(),
		Project: ProjectMetrics{
			ProjectDir:    projectDir,
			TrackedObject: opts.TrackedObject,
			TrackedNames:  opts.TrackedNames,
			InjectedCall:  opts.InjectedCall,
			DryRun:        dryRun,
			FilesScanned:  len(results),
			CacheHits:     cacheHits,
			CacheMisses:   cacheMisses,
		},
	}

	var functions []string
	for _, r := range results {
		if r.VerifyErr != nil {
			report.Project.FilesFailedVerify++
		} else if r.Changed {
			report.Project.FilesRewritten++
		}
		if len(r.Manifest.CallSites) == 0 && r.Manifest.Unterminated == 0 {
			continue
		}

		fm := FileMetrics{
			Path:             r.Manifest.Path,
			CallSiteCount:    len(r.Manifest.CallSites),
			ArgCount:         r.Manifest.ArgCount(),
			NameableArgCount: r.Manifest.NameableCount(),
			Unterminated:     r.Manifest.Unterminated,
			Changed:          r.Changed && r.VerifyErr == nil,
		}
		if r.VerifyErr != nil {
			fm.VerifyError = r.VerifyErr.Error()
		}
		report.Files = append(report.Files, fm)

		report.CallSites.CallSiteCount += fm.CallSiteCount
		report.CallSites.UnterminatedCount += fm.Unterminated
		report.CallSites.ArgCount += fm.ArgCount
		report.CallSites.NameableArgCount += fm.NameableArgCount
		for _, cs := range r.Manifest.CallSites {
			functions = append(functions, cs.Function)
		}
	}
	report.CallSites.FunctionCounts = bulk.SliceToCounts(functions)
	return report
}

func writeReportJSON(path string, report ReportMetrics) error {
	if path == "" {
		return nil
	}

	encodedReport, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report failed: %w", err)
	} else if err := os.WriteFile(path, encodedReport, 0644); err != nil {
		return fmt.Errorf("write report file failed: %w", err)
	}
	return nil
}

// WriteManifest writes the manifest as zstd compressed msgpack.
func WriteManifest(path string, manifest *Manifest) error {
	data, err := msgpack.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encode manifest failed: %w", err)
	} else if err = os.WriteFile(path, ZstdCompress(nil, data), 0644); err != nil {
		return fmt.Errorf("write manifest failed: %w", err)
	}
	return nil
}

// ReadManifest reads a manifest written by WriteManifest.
func ReadManifest(path string) (*Manifest, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data, err := ZstdDecompress(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("decompress manifest failed: %w", err)
	}
	var manifest Manifest
	if err := msgpack.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest failed: %w", err)
	}
	return &manifest, nil
}

// RenderReportChartsFromJson renders a previously written report to a png.
func RenderReportChartsFromJson(report ReportMetrics) ([]byte, error) {
	painterOpt := charts.PainterOptions{
		OutputFormat: charts.ChartOutputPNG,
		Width:        1024,
		Height:       768,
	}
	return renderReportCharts(painterOpt, report)
}

func chartOutputType(path string) (string, error) {
	if strings.HasSuffix(path, ".png") {
		return charts.ChartOutputPNG, nil
	} else if strings.HasSuffix(path, ".jpg") || strings.HasSuffix(path, ".jpeg") {
		return charts.ChartOutputJPG, nil
	} else if strings.HasSuffix(path, ".svg") {
		return charts.ChartOutputSVG, nil
	}
	return "", fmt.Errorf("unhandled chart file type: %s", path)
}

func writeReportCharts(path string, report ReportMetrics) error {
	if path == "" {
		return nil
	}
	outputType, err := chartOutputType(path)
	if err != nil {
		return err
	}

	painterOpt := charts.PainterOptions{
		OutputFormat: outputType,
		Width:        1024,
		Height:       1024,
	}
	if buf, err := renderReportCharts(painterOpt, report); err != nil {
		return fmt.Errorf("render charts failed: %w", err)
	} else if err = os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("write chart file failed: %w", err)
	}
	return nil
}

func renderReportCharts(painterOpt charts.PainterOptions, report ReportMetrics) ([]byte, error) {
	p := charts.NewPainter(painterOpt)
	if chartBox, err := renderChartsToPainter(p, report); err != nil {
		return nil, err
	} else if chartBox.Height() < p.Height()-128 || chartBox.Height() > p.Height() {
		// re-render with a painter sized to the charts
		painterOpt.Height = chartBox.Height()
		p = charts.NewPainter(painterOpt)
		if _, err := renderChartsToPainter(p, report); err != nil {
			return nil, err
		}
	}
	return p.Bytes()
}

// percentOf formats part as a percent of total, never rounding up to 100% while remainder is non-zero.
func percentOf(part, total float64) string {
	if total == 0 {
		return "0%"
	}
	percent := 100.0 * part / total
	if part < total && percent > 99.9 {
		percent = 99.9
	}
	return charts.FormatValueHumanize(percent, 1, false) + "%"
}

func renderChartsToPainter(p *charts.Painter, report ReportMetrics) (charts.Box, error) {
	const chartPadding = 10
	resultBox := charts.NewBoxEqual(0)
	resultBox.Right = p.Width()
	p.FilledRect(0, 0, p.Width(), p.Height(), charts.ColorWhite, charts.ColorWhite, 0)
	p = p.Child(charts.PainterPaddingOption(charts.NewBox(0, chartPadding, chartPadding, chartPadding)))

	titleFont := charts.FontStyle{
		FontSize:  16,
		FontColor: charts.ColorBlack,
		Font:      charts.GetDefaultFont(),
	}
	title := report.Project.TrackedObject + " call sites"
	if report.Project.ProjectDir != "" {
		title += ": " + report.Project.ProjectDir
	}
	if report.Project.DryRun {
		title += " (dry run)"
	}
	titleBox := p.MeasureText(title, 0, titleFont)
	titleBottom := titleBox.Height()
	resultBox.Bottom += titleBottom

	const middleUpShift = "-40" // overlap amount between rows
	painters, err := p.LayoutByRows().
		RowGap(strconv.Itoa(titleBottom)).
		Row().Height("128").Columns("topLeft", "topRight").
		Row().Height("112").RowOffset(middleUpShift).Columns("middleLeft", "middleRight").
		Row().Columns("bottom"). // remaining space for the file table
		Build()
	if err != nil {
		return resultBox, fmt.Errorf("error building chart layout: %w", err)
	}
	topLeft := painters["topLeft"]
	topRight := painters["topRight"]
	middleLeft := painters["middleLeft"]
	middleRight := painters["middleRight"]
	bottom := painters["bottom"]

	barGaugeThemeGreenRed := charts.GetTheme(charts.ThemeLight).
		WithBackgroundColor(charts.ColorTransparent).
		WithSeriesColors([]charts.Color{
			charts.ColorGreenAlt1,
			charts.ColorRed,
		})
	barGaugeThemeGreenYellow := charts.GetTheme(charts.ThemeLight).
		WithBackgroundColor(charts.ColorTransparent).
		WithSeriesColors([]charts.Color{
			charts.ColorGreenAlt1,
			{ /* Golden yellow */ R: 220, G: 210, B: 100, A: 255},
		})

	cs := report.CallSites
	argCount := float64(cs.ArgCount)
	nameable := float64(cs.NameableArgCount)
	topLeftOpt := charts.NewHorizontalBarChartOptionWithData([][]float64{
		{nameable}, {argCount - nameable},
	})
	topLeftOpt.StackSeries = charts.Ptr(true)
	topLeftOpt.Theme = barGaugeThemeGreenYellow
	topLeftOpt.Title.Text = "Named Arguments"
	topLeftOpt.XAxis.Unit = axisUnitForMax(cs.ArgCount)
	topLeftOpt.YAxis.Show = charts.Ptr(false)
	topLeftOpt.SeriesList[1].Label.Show = charts.Ptr(true)
	topLeftOpt.SeriesList[1].Label.FontStyle.FontColor = firstValueSeriesRankColor(topLeftOpt.Theme, topLeftOpt.SeriesList)
	topLeftOpt.SeriesList[1].Label.ValueFormatter = func(f float64) string {
		return percentOf(argCount-f, argCount)
	}
	if err := topLeft.HorizontalBarChart(topLeftOpt); err != nil {
		return resultBox, fmt.Errorf("error rendering chart: %w", err)
	}
	topLeft.Text("(Arguments logged with a name)", 180, 37, 0, charts.FontStyle{
		FontSize:  8,
		FontColor: topLeftOpt.Theme.GetTitleTextColor(),
		Font:      charts.GetDefaultFont(),
	})

	callCount := float64(cs.CallSiteCount + cs.UnterminatedCount)
	unterminated := float64(cs.UnterminatedCount)
	topRightOpt := charts.NewHorizontalBarChartOptionWithData([][]float64{
		{callCount - unterminated}, {unterminated},
	})
	topRightOpt.StackSeries = charts.Ptr(true)
	topRightOpt.Theme = barGaugeThemeGreenRed
	topRightOpt.Title.Text = "Calls Rewritten"
	topRightOpt.XAxis.Unit = axisUnitForMax(int(callCount))
	topRightOpt.YAxis.Show = charts.Ptr(false)
	topRightOpt.SeriesList[1].Label.Show = charts.Ptr(true)
	topRightOpt.SeriesList[1].Label.FontStyle.FontColor = firstValueSeriesRankColor(topRightOpt.Theme, topRightOpt.SeriesList)
	topRightOpt.SeriesList[1].Label.ValueFormatter = func(f float64) string {
		return percentOf(callCount-f, callCount)
	}
	if err := topRight.HorizontalBarChart(topRightOpt); err != nil {
		return resultBox, fmt.Errorf("error rendering chart: %w", err)
	}

	resultBox.Bottom += max(topLeft.Height(), topRight.Height())

	filesScanned := float64(report.Project.FilesScanned)
	filesRewritten := float64(report.Project.FilesRewritten)
	middleLeftOpt := charts.NewHorizontalBarChartOptionWithData([][]float64{
		{filesRewritten}, {filesScanned - filesRewritten},
	})
	middleLeftOpt.StackSeries = charts.Ptr(true)
	middleLeftOpt.Theme = barGaugeThemeGreenYellow
	middleLeftOpt.Title.Text = "Files With Tracked Calls"
	middleLeftOpt.XAxis.Show = charts.Ptr(false)
	middleLeftOpt.YAxis.Show = charts.Ptr(false)
	middleLeftOpt.BarHeight = 22
	middleLeftOpt.SeriesList[1].Label.Show = charts.Ptr(true)
	middleLeftOpt.SeriesList[1].Label.FontStyle.FontColor = charts.ColorBlack
	middleLeftOpt.SeriesList[1].Label.ValueFormatter = func(f float64) string {
		return percentOf(filesScanned-f, filesScanned)
	}
	if err := middleLeft.HorizontalBarChart(middleLeftOpt); err != nil {
		return resultBox, fmt.Errorf("error rendering chart: %w", err)
	}

	cacheTotal := float64(report.Project.CacheHits + report.Project.CacheMisses)
	cacheHits := float64(report.Project.CacheHits)
	middleRightOpt := charts.NewHorizontalBarChartOptionWithData([][]float64{
		{cacheHits}, {cacheTotal - cacheHits},
	})
	middleRightOpt.StackSeries = charts.Ptr(true)
	middleRightOpt.Theme = barGaugeThemeGreenYellow
	middleRightOpt.Title.Text = "Cache Hits"
	middleRightOpt.XAxis.Show = charts.Ptr(false)
	middleRightOpt.YAxis.Show = charts.Ptr(false)
	middleRightOpt.BarHeight = middleLeftOpt.BarHeight
	middleRightOpt.SeriesList[1].Label.Show = charts.Ptr(true)
	middleRightOpt.SeriesList[1].Label.FontStyle.FontColor = charts.ColorBlack
	middleRightOpt.SeriesList[1].Label.ValueFormatter = func(f float64) string {
		if cacheTotal == 0 {
			return "Cache disabled"
		}
		return percentOf(cacheTotal-f, cacheTotal)
	}
	if err := middleRight.HorizontalBarChart(middleRightOpt); err != nil {
		return resultBox, fmt.Errorf("error rendering chart: %w", err)
	}

	resultBox.Bottom += max(middleLeft.Height(), middleRight.Height())

	if len(report.Files) == 0 {
		text := "No Tracked Calls Found"
		textBox := bottom.MeasureText(text, 0, titleFont)
		bottom.Text(text, (bottom.Width()-textBox.Width())/2, bottom.Height()/2, 0, titleFont)
		resultBox.Bottom += textBox.Height() * 2
	} else {
		boxHeight, err := renderFileTable(bottom, report)
		if err != nil {
			return resultBox, err
		}
		resultBox.Bottom += boxHeight
	}

	// title rendered last so it is never clipped by the charts
	p.Text(title, (p.Width()/2)-(titleBox.Width()/2), titleBox.Height(), 0, titleFont)
	return resultBox, nil
}

const fileStatusVerifyFailed = "Verify FAIL"

// renderFileTable draws the files with the most unnamed arguments, returning the height used.
func renderFileTable(bottom *charts.Painter, report ReportMetrics) (int, error) {
	files := slices.Clone(report.Files)
	slices.SortFunc(files, func(a, b FileMetrics) int {
		if (a.VerifyError != "") != (b.VerifyError != "") { // failures first
			if a.VerifyError != "" {
				return -1
			}
			return 1
		}
		aUnnamed := a.ArgCount - a.NameableArgCount
		bUnnamed := b.ArgCount - b.NameableArgCount
		if aUnnamed != bUnnamed {
			return bUnnamed - aUnnamed
		} else if a.CallSiteCount != b.CallSiteCount {
			return b.CallSiteCount - a.CallSiteCount
		}
		return strings.Compare(a.Path, b.Path)
	})
	if len(files) > bottomTableMaxRecords {
		files = files[:bottomTableMaxRecords]
	}

	rows := make([][]string, len(files))
	for i, f := range files {
		status := "Rewritten"
		if f.VerifyError != "" {
			status = fileStatusVerifyFailed
		} else if f.Unterminated > 0 {
			status = strconv.Itoa(f.Unterminated) + " unterminated"
		} else if !f.Changed {
			status = "Unchanged"
		}
		path := f.Path
		if len(path) > 60 {
			path = ".." + path[len(path)-58:]
		}
		rows[i] = []string{
			path,
			strconv.Itoa(f.CallSiteCount),
			strconv.Itoa(f.ArgCount - f.NameableArgCount),
			status,
		}
	}

	functionNames := slices.Sorted(maps.Keys(report.CallSites.FunctionCounts))
	functionSummary := make([]string, len(functionNames))
	for i, name := range functionNames {
		functionSummary[i] = name + " " + strconv.Itoa(report.CallSites.FunctionCounts[name])
	}
	tableTitle := "Files By Unnamed Arguments"
	if len(functionSummary) > 0 {
		tableTitle += "  (" + strings.Join(functionSummary, ", ") + ")"
	}
	tableTitleFont := charts.FontStyle{
		FontSize:  12,
		FontColor: charts.GetTheme(charts.ThemeLight).GetTitleTextColor(),
		Font:      charts.GetDefaultFont(),
	}
	tableTitleBox := bottom.MeasureText(tableTitle, 0, tableTitleFont)
	bottom.Text(tableTitle, 10, tableTitleBox.Height(), 0, tableTitleFont)
	rowColors := []charts.Color{
		{R: 240, G: 240, B: 240, A: 255},
		charts.ColorTransparent,
	}
	if len(rows)%2 == 0 {
		// reverse row colors so table end is opposite of transparent
		rowColors[0], rowColors[1] = rowColors[1], rowColors[0]
	}
	defaultCellFontStyle := charts.FontStyle{
		FontSize:  12,
		FontColor: charts.Color{R: 50, G: 50, B: 50, A: 255},
		Font:      charts.GetDefaultFont(),
	}
	tableOpt := charts.TableChartOption{
		Header:                []string{"File", "Calls", "Unnamed Args", "Status"},
		Data:                  rows,
		HeaderBackgroundColor: charts.Color{R: 210, G: 210, B: 210, A: 255},
		RowBackgroundColors:   rowColors,
		Padding:               charts.NewBoxEqual(10),
		Spans:                 []int{32, 8, 10, 14},
		TextAligns:            []string{charts.AlignLeft, charts.AlignCenter, charts.AlignCenter, charts.AlignLeft},
		CellModifier: func(cell charts.TableCell) charts.TableCell {
			if cell.Row == 0 {
				return cell
			}
			cell.FontStyle = defaultCellFontStyle // reset on each call to prevent prior changes persisting

			switch cell.Column {
			case 2: // unnamed args
				if cell.Text == "0" {
					cell.FontStyle.FontColor = greenTextColor
				} else {
					cell.FontStyle.FontColor = orangeTextColor
				}
			case 3: // status
				if cell.Text == fileStatusVerifyFailed {
					cell.FontStyle.FontColor = redTextColor
				} else if strings.HasSuffix(cell.Text, "unterminated") {
					cell.FontStyle.FontColor = orangeTextColor
				}
			}
			return cell
		},
	}
	tablePainter := bottom.Child(charts.PainterPaddingOption(charts.NewBox(10, tableTitleBox.Height()+8, 0, 0)))
	if err := tablePainter.TableChart(tableOpt); err != nil {
		return 0, fmt.Errorf("error rendering table: %w", err)
	}
	// charts does not return the table size, render directly to measure it
	tableOpt.Width = bottom.Width()
	if tp, _ := charts.TableOptionRenderDirect(tableOpt); tp != nil {
		return tableTitleBox.Height() + tp.Height(), nil
	}
	return bottom.Height(), nil
}

func firstValueSeriesRankColor(theme charts.ColorPalette, sl charts.HorizontalBarSeriesList) charts.Color {
	sum := sl.SumSeriesValues()
	if sl[0].Values[0] < sum[0]/2 {
		return redTextColor
	} else if sl[0].Values[0] < sum[0]*.8 {
		return orangeTextColor
	}
	return theme.GetLabelTextColor()
}

func axisUnitForMax(val int) float64 {
	switch {
	case val >= 8000:
		return 2000
	case val > 2000:
		return 1000
	case val >= 800:
		return 200
	case val > 200:
		return 100
	case val >= 80:
		return 20
	case val > 20:
		return 10
	case val >= 10:
		return 2
	}
	return 1
}
