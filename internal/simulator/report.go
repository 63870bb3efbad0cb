package simulator

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	jsoniter "github.com/json-iterator/go"

	"github.com/clarke68/improv-score/internal/arc"
	"github.com/clarke68/improv-score/internal/dynamics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Report summarizes one simulated piece.
type Report struct {
	Summary      Summary           `json:"summary"`
	Fairness     Fairness          `json:"fairness"`
	Intervals    Intervals         `json:"interval_stats"`
	Distribution []MarkCount       `json:"dynamic_distribution"`
	Performers   []PerformerReport `json:"player_breakdown"`
	Timeline     []TimelineRow     `json:"timeline"`
}

// Summary describes the run as a whole.
type Summary struct {
	PieceID         string    `json:"piece_id"`
	Mode            Mode      `json:"mode"`
	Seed            int64     `json:"seed"`
	Prompts         int       `json:"total_prompts"`
	DurationMinutes float64   `json:"duration_minutes"`
	Players         int       `json:"players"`
	Arc             arc.Shape `json:"arc"`
	Contrast        float64   `json:"contrast"`
	TimedOut        bool      `json:"timed_out"`
}

// Fairness is the spread of play counts across performers. CV is the
// coefficient of variation, zero when nobody played.
type Fairness struct {
	MinPlays int     `json:"min_plays"`
	MaxPlays int     `json:"max_plays"`
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
	StdDev   float64 `json:"std_dev"`
	CV       float64 `json:"coefficient"`
}

// Intervals are gaps between committed prompts, in seconds.
type Intervals struct {
	Mean float64   `json:"mean"`
	Min  float64   `json:"min"`
	Max  float64   `json:"max"`
	All  []float64 `json:"all"`
}

// MarkCount is how often a dynamic mark was played.
type MarkCount struct {
	Mark  string `json:"mark"`
	Count int    `json:"count"`
}

// PerformerReport is one performer's share of the piece.
type PerformerReport struct {
	Index       int            `json:"player_index"`
	Plays       int            `json:"total_plays"`
	Rests       int            `json:"total_rests"`
	PlayPercent float64        `json:"play_percentage"`
	LongestPlay int            `json:"longest_play_streak"`
	LongestRest int            `json:"longest_rest_streak"`
	Dynamics    map[string]int `json:"dynamics"`
}

// TimelineRow is one committed prompt.
type TimelineRow struct {
	Time    string  `json:"time"`
	Elapsed float64 `json:"elapsed_seconds"`
	Gap     float64 `json:"interval"`
	Playing int     `json:"playing"`
	Marks   string  `json:"dynamics"`
}

func buildReport(col *collector, opts Options, pieceID string, timedOut bool) *Report {
	col.mu.Lock()
	defer col.mu.Unlock()

	r := &Report{
		Summary: Summary{
			PieceID:         pieceID,
			Mode:            opts.Mode,
			Seed:            opts.Seed,
			Prompts:         len(col.prompts),
			DurationMinutes: opts.Settings.DurationMinutes,
			Players:         len(col.players),
			Arc:             opts.Settings.Arc,
			Contrast:        opts.Settings.Contrast,
			TimedOut:        timedOut,
		},
		Intervals: Intervals{All: []float64{}},
	}

	counts := make([]float64, len(col.players))
	totals := map[string]int{}
	for i, t := range col.players {
		counts[i] = float64(t.plays)
		pr := PerformerReport{
			Index:       i,
			Plays:       t.plays,
			Rests:       t.rests,
			LongestPlay: t.longestPlay,
			LongestRest: t.longestRest,
			Dynamics:    map[string]int{},
		}
		if total := t.plays + t.rests; total > 0 {
			pr.PlayPercent = float64(t.plays) / float64(total) * 100
		}
		for mark, n := range t.dynamics {
			pr.Dynamics[mark] = n
			totals[mark] += n
		}
		r.Performers = append(r.Performers, pr)
	}
	r.Fairness = fairness(counts)
	r.Distribution = distribution(totals)

	for i, p := range col.prompts {
		row := TimelineRow{
			Time:    clockLabel(p.elapsed),
			Elapsed: p.elapsed.Seconds(),
			Playing: p.playing,
			Marks:   strings.Join(p.marks, ", "),
		}
		if i > 0 {
			row.Gap = p.gap.Seconds()
			r.Intervals.All = append(r.Intervals.All, row.Gap)
		}
		r.Timeline = append(r.Timeline, row)
	}
	r.Intervals = intervals(r.Intervals.All)
	return r
}

func fairness(counts []float64) Fairness {
	if len(counts) == 0 {
		return Fairness{}
	}
	f := Fairness{MinPlays: math.MaxInt, MaxPlays: 0}
	sum := 0.0
	for _, c := range counts {
		sum += c
		f.MinPlays = min(f.MinPlays, int(c))
		f.MaxPlays = max(f.MaxPlays, int(c))
	}
	if sum == 0 {
		return Fairness{}
	}
	f.Mean = sum / float64(len(counts))
	for _, c := range counts {
		f.Variance += (c - f.Mean) * (c - f.Mean)
	}
	f.Variance /= float64(len(counts))
	f.StdDev = math.Sqrt(f.Variance)
	f.CV = f.StdDev / f.Mean
	return f
}

func intervals(all []float64) Intervals {
	out := Intervals{All: all}
	if len(all) == 0 {
		return out
	}
	out.Min, out.Max = all[0], all[0]
	sum := 0.0
	for _, v := range all {
		sum += v
		out.Min = math.Min(out.Min, v)
		out.Max = math.Max(out.Max, v)
	}
	out.Mean = sum / float64(len(all))
	return out
}

// distribution lists marks in table order, then any unknown marks by name.
func distribution(totals map[string]int) []MarkCount {
	out := []MarkCount{}
	seen := map[string]bool{}
	for _, lvl := range dynamics.Table() {
		if n := totals[lvl.Mark]; n > 0 {
			out = append(out, MarkCount{Mark: lvl.Mark, Count: n})
		}
		seen[lvl.Mark] = true
	}
	var extra []string
	for mark := range totals {
		if !seen[mark] {
			extra = append(extra, mark)
		}
	}
	sort.Strings(extra)
	for _, mark := range extra {
		out = append(out, MarkCount{Mark: mark, Count: totals[mark]})
	}
	return out
}

func clockLabel(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// WriteJSON encodes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("simulator: encode report: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("simulator: write report: %w", err)
	}
	return nil
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	headStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

// Text renders the report for a terminal. Timeline rows beyond maxRows are
// elided; maxRows <= 0 prints them all.
func (r *Report) Text(maxRows int) string {
	s := r.Summary
	summary := []string{
		titleStyle.Render("Simulation"),
		fmt.Sprintf("piece %s  mode %s  seed %d", s.PieceID, s.Mode, s.Seed),
		fmt.Sprintf("%d prompts over %.1f min, %d players, arc %s, contrast %.2f",
			s.Prompts, s.DurationMinutes, s.Players, s.Arc, s.Contrast),
	}
	if s.TimedOut {
		summary = append(summary, headStyle.Render("safety timeout forced the end"))
	}

	f := r.Fairness
	stats := []string{
		headStyle.Render("Fairness"),
		fmt.Sprintf("plays %d..%d  mean %.1f  stddev %.2f  cv %.3f", f.MinPlays, f.MaxPlays, f.Mean, f.StdDev, f.CV),
		headStyle.Render("Intervals"),
		fmt.Sprintf("mean %.1fs  min %.1fs  max %.1fs", r.Intervals.Mean, r.Intervals.Min, r.Intervals.Max),
		headStyle.Render("Dynamics"),
	}
	var marks []string
	for _, mc := range r.Distribution {
		marks = append(marks, fmt.Sprintf("%s:%d", mc.Mark, mc.Count))
	}
	stats = append(stats, strings.Join(marks, "  "))

	players := []string{headStyle.Render("Performers")}
	for _, p := range r.Performers {
		players = append(players, fmt.Sprintf("P%-2d plays %3d  rests %3d  %5.1f%%  streaks %d/%d",
			p.Index+1, p.Plays, p.Rests, p.PlayPercent, p.LongestPlay, p.LongestRest))
	}

	timeline := []string{headStyle.Render("Timeline")}
	for i, row := range r.Timeline {
		if maxRows > 0 && i >= maxRows {
			timeline = append(timeline, dimStyle.Render(fmt.Sprintf("… %d more", len(r.Timeline)-maxRows)))
			break
		}
		gap := "—"
		if row.Gap > 0 {
			gap = fmt.Sprintf("%.1fs", row.Gap)
		}
		marks := row.Marks
		if marks == "" {
			marks = "—"
		}
		timeline = append(timeline, fmt.Sprintf("%6s  %7s  %2d  %s", row.Time, gap, row.Playing, marks))
	}

	body := lipgloss.JoinVertical(lipgloss.Left,
		strings.Join(summary, "\n"),
		"",
		strings.Join(stats, "\n"),
		"",
		strings.Join(players, "\n"),
		"",
		strings.Join(timeline, "\n"),
	)
	return boxStyle.Render(body)
}
