package dashboard

import (
	"html/template"
	"strings"

	channerics "github.com/niceyeti/channerics/channels"
)

// logViewMaxLines bounds the scrolling report-line log kept in the browser;
// older lines are dropped once the limit is reached.
const logViewMaxLines = 200

// logViewID names both the template and the html element logView renders
// into. It is a package constant, not a struct field, so the zero-value
// logView{} dashboard.go's renderIndex uses purely for Parse names the same
// element the live, constructor-built instance pushes EleUpdates to.
const logViewID = "log-view"

// logView renders the tail of report lines pushed through Dashboard.Writeln
// as a single scrolling text block, grounded on cell_views.ValueFunction's
// Convert-driven onUpdate/Parse pairing (value_function_view.go): a
// channerics.Convert turns the raw data-model stream into EleUpdates, and
// Parse defines the html/template fragment the index page composes in.
type logView struct {
	lines   []string
	updates <-chan []EleUpdate
}

// newLogView subscribes to source (one update per report line) and returns
// a view whose single element is replaced with the joined log tail on
// every new line.
func newLogView(done <-chan struct{}, source <-chan string) *logView {
	lv := &logView{}
	lv.updates = channerics.Convert(done, source, lv.onUpdate)
	return lv
}

func (lv *logView) Updates() <-chan []EleUpdate {
	return lv.updates
}

func (lv *logView) onUpdate(line string) []EleUpdate {
	lv.lines = append(lv.lines, line)
	if len(lv.lines) > logViewMaxLines {
		lv.lines = lv.lines[len(lv.lines)-logViewMaxLines:]
	}

	return []EleUpdate{
		{
			EleId: logViewID,
			Ops: []Op{
				{Key: "textContent", Value: strings.Join(lv.lines, "\n")},
			},
		},
	}
}

// Parse defines the log view's template fragment: a scrolling, monospaced
// block whose textContent the client-side websocket handler overwrites.
func (lv *logView) Parse(t *template.Template) (name string, err error) {
	name = logViewID
	_, err = t.Parse(
		`{{ define "` + name + `" }}
		<pre id="` + logViewID + `"
			style="height:300px; overflow-y:scroll; background:#111; color:#0f0; padding:8px; margin:0;"
		></pre>
		{{ end }}`)
	return
}
