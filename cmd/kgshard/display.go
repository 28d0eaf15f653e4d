// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/kgshard/pkg/kge/batchsampler"
	"github.com/gomlx/kgshard/pkg/kge/dataset"
	"github.com/gomlx/kgshard/pkg/kge/sharding"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).PaddingLeft(1).PaddingRight(1)
	evenRowStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).PaddingLeft(1).PaddingRight(1)
	titleStyle     = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)

	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor  = "#705090"
)

func newPlainTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			switch {
			case row == lgtable.HeaderRow:
				return headerRowStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

// printSummary prints the configuration of the run and the sizes of the shards and partitions.
func printSummary(runID string, config runConfig, ds *dataset.Dataset, sh *sharding.Sharding) {
	fmt.Println(titleStyle.Render("Run " + runID))
	table := newPlainTable()
	table.Row("dataset", ds.String())
	table.Row("sharding", sh.String())
	sampler := "random"
	if config.Rigid {
		sampler = "rigid"
	}
	table.Row("sampler", fmt.Sprintf("%s, %s", sampler, config.Sampler))
	table.Row("negatives", fmt.Sprintf("%d, scheme=%s, local=%v, flat=%v",
		config.Negative.NNegative, config.Negative.CorruptionScheme, config.Negative.LocalSampling,
		config.Negative.FlatNegativeFormat))
	table.Row("workers", strconv.Itoa(config.Workers))
	fmt.Println(table.Render())

	// Partition counts: rows are head shards, columns tail shards.
	counts := make([][]int, sh.NShard)
	for h := range counts {
		counts[h] = make([]int, sh.NShard)
	}
	for _, triple := range ds.All(config.Sampler.Part) {
		counts[sh.Shard(triple.Head)][sh.Shard(triple.Tail)]++
	}
	partitions := newPlainTable()
	headers := []string{"head \\ tail"}
	for t := range sh.NShard {
		headers = append(headers, fmt.Sprintf("shard %d", t))
	}
	headers = append(headers, "entities")
	partitions.Headers(headers...)
	for h, row := range counts {
		cells := []string{fmt.Sprintf("shard %d", h)}
		for _, count := range row {
			cells = append(cells, humanize.Comma(int64(count)))
		}
		cells = append(cells, humanize.Comma(int64(sh.ShardCounts[h])))
		partitions.Row(cells...)
	}
	fmt.Println(titleStyle.Render("Triples per shard partition"))
	fmt.Println(partitions.Render())
}

// progressDisplay shows a progress bar with a table of statistics, updated asynchronously.
type progressDisplay struct {
	quiet         bool
	bar           *progressbar.ProgressBar
	termenv       *termenv.Output
	statsStyle    lipgloss.Style
	statsTable    *lgtable.Table
	isFirstOutput bool
	updates       chan displayUpdate
	done          sync.WaitGroup
	closeOnce     sync.Once
}

type displayUpdate struct {
	amount int
	rows   [][2]string
}

// maxUpdateFrequency is the time between updates of the statistics table.
const maxUpdateFrequency = time.Millisecond * 200

func newProgressDisplay(numSteps int, quiet bool) *progressDisplay {
	d := &progressDisplay{quiet: quiet}
	if quiet {
		return d
	}
	if numSteps <= 0 {
		numSteps = -1 // Spinner.
	}
	d.bar = progressbar.NewOptions(numSteps,
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("steps"),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionSetWriter(os.Stdout),
	)
	d.isFirstOutput = true
	d.termenv = termenv.NewOutput(os.Stdout)
	d.statsStyle = lipgloss.NewStyle().PaddingLeft(8)
	d.statsTable = lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
	d.updates = make(chan displayUpdate, 100)
	d.done.Add(1)
	go d.drawLoop()
	return d
}

// drawLoop draws the updates, merging the ones that arrive faster than the terminal refresh.
func (d *progressDisplay) drawLoop() {
	defer d.done.Done()
	var numRowsPrinted int
	for update := range d.updates {
		amount := update.amount
	exhaust:
		for {
			select {
			case newUpdate, ok := <-d.updates:
				if !ok {
					break exhaust
				}
				amount += newUpdate.amount
				update = newUpdate
			default:
				break exhaust
			}
		}

		d.statsTable.Data(lgtable.NewStringData())
		for _, row := range update.rows {
			d.statsTable.Row(row[0], row[1])
		}
		d.termenv.HideCursor()
		if !d.isFirstOutput {
			d.termenv.CursorPrevLine(numRowsPrinted + 2 + 2)
		}
		d.isFirstOutput = false
		numRowsPrinted = len(update.rows)
		fmt.Println(d.statsStyle.Render(d.statsTable.String()))
		_ = d.bar.Add(amount)
		fmt.Println()
		d.termenv.ShowCursor()
		time.Sleep(maxUpdateFrequency)
	}
}

// Update the display after a batch is yielded.
func (d *progressDisplay) Update(epoch int, batch *batchsampler.Batch, totalTriples int, elapsed time.Duration) {
	if d.quiet {
		klog.V(1).Infof("epoch %d: %s", epoch, batch)
		return
	}
	rows := [][2]string{
		{"Epoch", strconv.Itoa(epoch)},
		{"Step", fmt.Sprintf("%d (epoch %d)", batch.Token.Step, batch.Token.Epoch)},
		{"Batch shape", batch.Head.Shape().String()},
		{"Real triples in batch", humanize.Comma(int64(batch.NumTriples()))},
		{"Total triples", humanize.Comma(int64(totalTriples))},
		{"Elapsed", formatDuration(elapsed)},
	}
	if batch.Negative != nil {
		rows = append(rows, [2]string{"Negatives shape", batch.Negative.Entities.Shape().String()})
	}
	d.updates <- displayUpdate{amount: 1, rows: rows}
}

// Done flushes the pending updates and restores the cursor. Extra calls are no-ops.
func (d *progressDisplay) Done() {
	if d.quiet {
		return
	}
	d.closeOnce.Do(func() {
		close(d.updates)
		d.done.Wait()
		d.termenv.ShowCursor()
		fmt.Println()
	})
}

var durationRegexp = regexp.MustCompile(`(\d+\.?\d*)([µa-z]+)`)

// formatDuration pretty prints duration without a long list of decimal points.
func formatDuration(d time.Duration) string {
	s := d.String()
	matches := durationRegexp.FindStringSubmatch(s)
	if len(matches) != 3 {
		return s
	}
	num, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return s
	}
	return fmt.Sprintf("%.2f%s", num, matches[2])
}
