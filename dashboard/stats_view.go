package dashboard

import (
	"fmt"
	"html/template"

	channerics "github.com/niceyeti/channerics/channels"
)

// statsViewID names both the template and the html element statsView
// renders into. It is a package constant, not a struct field, so the
// zero-value statsView{} dashboard.go's renderIndex uses purely for Parse
// names the same element the live, constructor-built instance pushes
// EleUpdates to.
const statsViewID = "stats-view"

// statsView renders a Snapshot as a small table of named numeric cells, one
// EleId per stat, following the same Convert-driven onUpdate/Parse pairing
// as logView and cell_views.ValueFunction (value_function_view.go): each
// incoming Snapshot becomes a batch of independent EleUpdates so the client
// only rewrites the cells that exist rather than the whole table.
type statsView struct {
	updates <-chan []EleUpdate
}

// newStatsView subscribes to source (one Snapshot per reported batch) and
// returns a view whose stat cells are refreshed on every new snapshot.
func newStatsView(done <-chan struct{}, source <-chan Snapshot) *statsView {
	sv := &statsView{}
	sv.updates = channerics.Convert(done, source, sv.onUpdate)
	return sv
}

func (sv *statsView) Updates() <-chan []EleUpdate {
	return sv.updates
}

func (sv *statsView) onUpdate(s Snapshot) []EleUpdate {
	capitalFrac := "NaN"
	if s.AvailableCapital > 0 {
		capitalFrac = fmt.Sprintf("%0.4f", s.SpentCapital/s.AvailableCapital)
	}

	return []EleUpdate{
		statCell("policy", s.FullPolicyName),
		statCell("step", fmt.Sprintf("%d", s.StepIdx)),
		statCell("completed", fmt.Sprintf("%d", s.NumCompletedEvals)),
		statCell("succeeded", fmt.Sprintf("%d", s.NumSuccQueries)),
		statCell("capital", fmt.Sprintf("%0.4f / %0.4f (%s)", s.SpentCapital, s.AvailableCapital, capitalFrac)),
	}
}

func statCell(name, value string) EleUpdate {
	return EleUpdate{
		EleId: statsViewID + "-" + name,
		Ops: []Op{
			{Key: "textContent", Value: value},
		},
	}
}

// Parse defines the stats view's template fragment: a row of labelled cells,
// one per stat, matched by id to the EleUpdates onUpdate produces.
func (sv *statsView) Parse(t *template.Template) (name string, err error) {
	name = statsViewID
	_, err = t.Parse(
		`{{ define "` + name + `" }}
		<table id="` + statsViewID + `" style="font-family:monospace;">
			<tr><td>policy</td><td id="` + statsViewID + `-policy"></td></tr>
			<tr><td>step</td><td id="` + statsViewID + `-step"></td></tr>
			<tr><td>completed</td><td id="` + statsViewID + `-completed"></td></tr>
			<tr><td>succeeded</td><td id="` + statsViewID + `-succeeded"></td></tr>
			<tr><td>capital</td><td id="` + statsViewID + `-capital"></td></tr>
		</table>
		{{ end }}`)
	return
}
