package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/pixfix/processor"
)

func TestModel_Update(t *testing.T) {
	t.Parallel()

	updates := make(chan processor.ProgressUpdate, 4)
	var m tea.Model = NewModel("pixfix resize", updates)

	for _, u := range []processor.ProgressUpdate{
		{TotalDelta: 3},
		{ProcessedDelta: 1, Current: "a.jpg"},
		{ProcessedDelta: 1, FailedDelta: 1, Current: "b.jpg"},
	} {
		var cmd tea.Cmd
		m, cmd = m.Update(updateMsg(u))
		require.NotNil(t, cmd, "每次更新后继续监听")
	}

	view := m.View()
	assert.Contains(t, view, "pixfix resize")
	assert.Contains(t, view, "Images: 2/3")
	assert.Contains(t, view, "failed:1")
	assert.Contains(t, view, "Current: b.jpg")

	close(updates)
	msg := m.(Model).Init()()
	assert.Equal(t, doneMsg{}, msg)

	m, cmd := m.Update(msg)
	require.NotNil(t, cmd)
	assert.Empty(t, m.View())
}

func TestRenderBar(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		ratio float64
		want  string
	}{
		{name: "空", ratio: 0, want: "[          ]"},
		{name: "一半", ratio: 0.5, want: "[=====     ]"},
		{name: "满", ratio: 1, want: "[==========]"},
		{name: "超出", ratio: 1.7, want: "[==========]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, renderBar(10, tt.ratio))
		})
	}
}

func TestRenderSummary(t *testing.T) {
	t.Parallel()

	report := &processor.BatchReport{
		Kind: processor.KindEnhance,
		Results: []processor.ProcessingResult{
			{Kind: processor.KindEnhance, Input: "in/a.jpg", Output: "out/enhanced_a.jpg"},
			{Kind: processor.KindEnhance, Input: "in/b.jpg", Output: "out/enhanced_b.jpg", Err: errors.New("decode image: bad data")},
		},
		Unsupported: []string{"notes.txt"},
		Duration:    1500 * time.Millisecond,
	}

	out := RenderSummary(ReportRows(report))
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 8)
	assert.Equal(t, lines[0], lines[len(lines)-1])
	assert.Contains(t, out, "enhance_quality")
	assert.Contains(t, out, "Succeeded")
	assert.Contains(t, out, "1.5s")

	failures := RenderFailures(report)
	assert.Contains(t, failures, "1 image(s) failed:")
	assert.Contains(t, failures, "b.jpg")
	assert.Contains(t, failures, "bad data")

	report.Results = report.Results[:1]
	assert.Empty(t, RenderFailures(report))
}

func TestModel_Interrupt(t *testing.T) {
	t.Parallel()

	m := NewModel("pixfix", make(chan processor.ProgressUpdate))
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.True(t, next.(Model).Interrupted())

	next, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.Nil(t, cmd)
	assert.False(t, next.(Model).Interrupted())
}
