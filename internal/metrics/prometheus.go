package metrics

import (
	"bytes"
	"net/http"
	"slices"
	"strconv"
)

const counterFamily = "signalcore_events_total"

// PrometheusHandler serves the counter registry in the Prometheus text
// exposition format. Every counter is a sample of one family, keyed by an
// event label, which keeps the registry a plain map without per-metric
// metadata.
func PrometheusHandler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		snap := m.Snapshot()
		names := make([]string, 0, len(snap))
		for name := range snap {
			names = append(names, name)
		}
		slices.Sort(names)

		var buf bytes.Buffer
		buf.WriteString("# HELP " + counterFamily + " Internal event counters.\n")
		buf.WriteString("# TYPE " + counterFamily + " counter\n")
		for _, name := range names {
			buf.WriteString(counterFamily + `{event="`)
			writeEscapedLabel(&buf, name)
			buf.WriteString(`"} `)
			buf.WriteString(strconv.FormatUint(snap[name], 10))
			buf.WriteByte('\n')
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	})
}

// writeEscapedLabel escapes backslash and double quote per the text format
// rules. Counter names contain neither in practice, but a malformed label
// would corrupt the whole scrape.
func writeEscapedLabel(buf *bytes.Buffer, s string) {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\', '"':
			buf.WriteByte('\\')
		}
		buf.WriteByte(s[i])
	}
}
