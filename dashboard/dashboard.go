package dashboard

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	channerics "github.com/niceyeti/channerics/channels"
)

// Snapshot is a point-in-time view of a running experiment designer's
// progress, pushed by the driver (typically from its MainLoopPost hook)
// after each completed batch.
type Snapshot struct {
	FullPolicyName    string
	StepIdx           int
	NumCompletedEvals int
	NumSuccQueries    int
	SpentCapital      float64
	AvailableCapital  float64
}

// Dashboard is an additional reporter.Reporter implementation that renders
// live progress as a websocket-driven browser page, collapsing root_view's
// fanIn/batchify pattern down to the two views this package actually needs:
// a scrolling report-line log and a small numeric stats table.
type Dashboard struct {
	addr    string
	router  *mux.Router
	updates <-chan []EleUpdate

	logLines chan string
	snaps    chan Snapshot

	mu   sync.Mutex
	last []EleUpdate
}

// NewDashboard builds the view pipeline and HTTP routes. ctx governs the
// lifetime of the broadcast pipeline; cancelling it tears down the fan-in
// goroutines and any connected client's publish loop.
func NewDashboard(ctx context.Context, addr string) (*Dashboard, error) {
	logLines := make(chan string, 256)
	snaps := make(chan Snapshot, 64)

	logViews, err := NewViewBuilder[string, string]().
		WithContext(ctx).
		WithModel(logLines, func(line string) string { return line }).
		WithView(func(done <-chan struct{}, lines <-chan string) ViewComponent {
			return newLogView(done, lines)
		}).
		Build()
	if err != nil {
		return nil, err
	}

	statViews, err := NewViewBuilder[Snapshot, Snapshot]().
		WithContext(ctx).
		WithModel(snaps, func(s Snapshot) Snapshot { return s }).
		WithView(func(done <-chan struct{}, s <-chan Snapshot) ViewComponent {
			return newStatsView(done, s)
		}).
		Build()
	if err != nil {
		return nil, err
	}

	views := append(logViews, statViews...)
	updates := fanIn(ctx.Done(), views)

	d := &Dashboard{
		addr:     addr,
		router:   mux.NewRouter(),
		updates:  updates,
		logLines: logLines,
		snaps:    snaps,
	}
	d.routes()
	go d.trackLast(ctx.Done())
	return d, nil
}

// Writeln satisfies reporter.Reporter: each report line is pushed to the
// log view. A full buffer drops the line rather than blocking the driver.
func (d *Dashboard) Writeln(line string) {
	select {
	case d.logLines <- line:
	default:
	}
}

// PublishSnapshot pushes a new stats snapshot to the stats view. A full
// buffer drops the snapshot; the next one supersedes it anyway.
func (d *Dashboard) PublishSnapshot(s Snapshot) {
	select {
	case d.snaps <- s:
	default:
	}
}

// trackLast mirrors every batch of updates the fan-in produces, so a client
// connecting mid-run can be replayed the latest state of every element
// instead of starting blank until the next change.
func (d *Dashboard) trackLast(done <-chan struct{}) {
	data := map[string]EleUpdate{}
	for updates := range channerics.OrDone(done, d.updates) {
		d.mu.Lock()
		for _, u := range updates {
			data[u.EleId] = u
		}
		d.last = slicedVals(data)
		d.mu.Unlock()
	}
}

func (d *Dashboard) snapshot() []EleUpdate {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]EleUpdate(nil), d.last...)
}

func (d *Dashboard) routes() {
	d.router.HandleFunc("/", d.serveIndex).Methods(http.MethodGet)
	d.router.HandleFunc("/ws", d.serveWebsocket).Methods(http.MethodGet)
}

// Serve blocks, serving the index page and websocket endpoint.
func (d *Dashboard) Serve() error {
	if err := http.ListenAndServe(d.addr, d.router); err != nil {
		return fmt.Errorf("dashboard serve: %w", err)
	}
	return nil
}

func (d *Dashboard) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	cli, err := NewClient[[]EleUpdate](d.updates, w, r)
	if err != nil {
		return
	}
	if err := cli.Sync(); err != nil {
		fmt.Println("dashboard client disconnected:", err)
	}
}

func (d *Dashboard) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if err := renderIndex(w, d.snapshot()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// renderIndex composes the main page from the two view templates plus the
// websocket bootstrap script that applies EleUpdates as they arrive.
func renderIndex(w http.ResponseWriter, initial []EleUpdate) error {
	t := template.New("index")

	logName, err := (&logView{}).Parse(t)
	if err != nil {
		return err
	}
	statsName, err := (&statsView{}).Parse(t)
	if err != nil {
		return err
	}

	name := "dashboard"
	body := fmt.Sprintf(`{{ template "%s" . }}{{ template "%s" . }}`, statsName, logName)
	indexTemplate := `
	{{ define "` + name + `" }}
	<!DOCTYPE html>
	<html>
		<head>
			<link rel="icon" href="data:,">
			<script>
				const ws = new WebSocket("ws://" + window.location.host + "/ws");
				ws.onerror = function(event) { console.log("websocket error:", event); };
				ws.onmessage = function(event) {
					const items = JSON.parse(event.data);
					for (const update of items) {
						const ele = document.getElementById(update.EleId);
						if (!ele) { continue; }
						for (const op of update.Ops) {
							if (op.Key === "textContent") {
								ele.textContent = op.Value;
							} else {
								ele.setAttribute(op.Key, op.Value);
							}
						}
					}
				};
			</script>
		</head>
		<body>` + body + `</body>
	</html>
	{{ end }}
	`
	if _, err := t.Parse(indexTemplate); err != nil {
		return err
	}
	return t.Execute(w, initial)
}

// fanIn aggregates every view's ele-update channel into one, batching
// within a short window so redundant updates to the same element collapse
// to just the latest value.
func fanIn(done <-chan struct{}, views []ViewComponent) <-chan []EleUpdate {
	inputs := make([]<-chan []EleUpdate, len(views))
	for i, v := range views {
		inputs[i] = v.Updates()
	}
	return batchify(done, channerics.Merge(done, inputs...), time.Millisecond*20)
}

// batchify coalesces updates for the same element id within rate, emitting
// only the latest value for each once the window elapses.
func batchify(done <-chan struct{}, source <-chan []EleUpdate, rate time.Duration) <-chan []EleUpdate {
	output := make(chan []EleUpdate)

	go func() {
		defer close(output)

		data := map[string]EleUpdate{}
		last := time.Now()
		for updates := range channerics.OrDone(done, source) {
			for _, u := range updates {
				data[u.EleId] = u
			}

			if time.Since(last) > rate && len(updates) > 0 {
				select {
				case output <- slicedVals(data):
					data = map[string]EleUpdate{}
					last = time.Now()
				case <-done:
					return
				}
			}
		}
	}()

	return output
}

func slicedVals[T1 comparable, T2 any](mp map[T1]T2) (sliced []T2) {
	for _, v := range mp {
		sliced = append(sliced, v)
	}
	return
}
