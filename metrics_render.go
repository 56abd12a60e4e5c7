package fantail

import (
	"bytes"

	"github.com/prometheus/common/expfmt"
)

// renderPrometheus gathers f's metrics registry into Prometheus text
// exposition format for the /_metrics built-in endpoint, which is
// deliberately NOT wrapped in the {code, message, data, timestamp}
// envelope since it must remain scrapeable by a standard Prometheus
// client (see SPEC_FULL.md section 6).
func renderPrometheus(f *Framework) []byte {
	families, err := f.Metrics.Registry.Gather()
	if err != nil {
		return []byte("# error gathering metrics: " + err.Error() + "\n")
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			continue
		}
	}
	return buf.Bytes()
}
