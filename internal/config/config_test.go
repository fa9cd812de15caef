package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"chomp/internal/ingest"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "prices.yaml", `
http_api:
  - name: btc_price
    interval: s30
    resource_type: timeseries
    target: https://example.com/btc
    fields:
      - name: price
        type: float64
        selector: price
`)
	ns, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "prices", ns.Name)
	require.Len(t, ns.Ingesters, 1)
	ing := ns.Ingesters[0]
	require.Equal(t, "btc_price", ing.Name)
	require.Equal(t, ingest.KindHTTPAPI, ing.Kind)
	require.Equal(t, 1.0, ing.Probability)
}

func TestLoadRejectsUnknownKind(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "bad.yaml", `
not_a_real_kind:
  - name: x
    interval: s30
    resource_type: timeseries
    fields:
      - name: f
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsUnknownFieldKey(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "bad.yaml", `
http_api:
  - name: x
    interval: s30
    resource_type: timeseries
    bogus_key: true
    fields:
      - name: f
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsInvalidInterval(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "bad.yaml", `
http_api:
  - name: x
    interval: not_an_interval
    resource_type: timeseries
    fields:
      - name: f
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsEmptyFields(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "bad.yaml", `
http_api:
  - name: x
    interval: s30
    resource_type: timeseries
    fields: []
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsDuplicateNameWithinFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "dup.yaml", `
http_api:
  - name: x
    interval: s30
    resource_type: timeseries
    fields:
      - name: f
  - name: x
    interval: s30
    resource_type: timeseries
    fields:
      - name: f
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsProbabilityOutOfRange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "bad.yaml", `
http_api:
  - name: x
    interval: s30
    resource_type: timeseries
    probability: 1.5
    fields:
      - name: f
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsCyclicTransformerDependency(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "cycle.yaml", `
http_api:
  - name: x
    interval: s30
    resource_type: timeseries
    fields:
      - name: a
        transformers: ["{b}"]
      - name: b
        transformers: ["{a}"]
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestProcessorTargetIsIgnored(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "proc.yaml", `
processor:
  - name: derived
    interval: s30
    resource_type: timeseries
    target: ignored
    fields:
      - name: f
`)
	ns, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "", ns.Ingesters[0].Target)
}

func TestLoadAllRejectsCrossFileDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	p1 := writeConfig(t, dir, "a.yaml", `
http_api:
  - name: shared
    interval: s30
    resource_type: timeseries
    fields:
      - name: f
`)
	p2 := writeConfig(t, dir, "b.yaml", `
http_api:
  - name: shared
    interval: s30
    resource_type: timeseries
    fields:
      - name: f
`)
	_, err := LoadAll(p1 + "," + p2)
	require.Error(t, err)
}

func TestLoadAllLoadsMultipleNamespaces(t *testing.T) {
	dir := t.TempDir()
	p1 := writeConfig(t, dir, "a.yaml", `
http_api:
  - name: a_ingester
    interval: s30
    resource_type: timeseries
    fields:
      - name: f
`)
	p2 := writeConfig(t, dir, "b.yaml", `
http_api:
  - name: b_ingester
    interval: s30
    resource_type: timeseries
    fields:
      - name: f
`)
	namespaces, err := LoadAll(p1 + ", " + p2)
	require.NoError(t, err)
	require.Len(t, namespaces, 2)
}

func loadNS(t *testing.T, dir, name, content string) *Namespace {
	t.Helper()
	ns, err := Load(writeConfig(t, dir, name, content))
	require.NoError(t, err)
	return ns
}

func TestDiffDetectsAddedRemovedAndChanged(t *testing.T) {
	dir := t.TempDir()
	old := []*Namespace{loadNS(t, dir, "old.yaml", `
http_api:
  - name: btc_price
    interval: s30
    resource_type: timeseries
    target: https://example.com/btc
    fields:
      - name: price
        selector: price
  - name: eth_price
    interval: s30
    resource_type: timeseries
    target: https://example.com/eth
    fields:
      - name: price
        selector: price
`)}

	newGen := []*Namespace{loadNS(t, dir, "new.yaml", `
http_api:
  - name: btc_price
    interval: s30
    resource_type: timeseries
    target: https://example.com/btc/v2
    fields:
      - name: price
        selector: price
  - name: sol_price
    interval: s30
    resource_type: timeseries
    target: https://example.com/sol
    fields:
      - name: price
        selector: price
`)}

	d := Diff(old, newGen)
	require.False(t, d.Empty())
	require.Equal(t, []string{"sol_price"}, d.Added)
	require.Equal(t, []string{"eth_price"}, d.Removed)
	require.Equal(t, []string{"btc_price"}, d.Changed)
}

func TestDiffEmptyWhenDefinitionsMatch(t *testing.T) {
	dir := t.TempDir()
	body := `
http_api:
  - name: btc_price
    interval: s30
    resource_type: timeseries
    target: https://example.com/btc
    fields:
      - name: price
        selector: price
`
	old := []*Namespace{loadNS(t, dir, "old.yaml", body)}
	newGen := []*Namespace{loadNS(t, dir, "new.yaml", body)}

	d := Diff(old, newGen)
	require.True(t, d.Empty())
}

func TestDiffIgnoresRuntimeStatusMutation(t *testing.T) {
	dir := t.TempDir()
	body := `
http_api:
  - name: btc_price
    interval: s30
    resource_type: timeseries
    target: https://example.com/btc
    fields:
      - name: price
        selector: price
`
	old := []*Namespace{loadNS(t, dir, "old.yaml", body)}
	newGen := []*Namespace{loadNS(t, dir, "new.yaml", body)}

	old[0].Ingesters[0].Status = ingest.StatusHealthy
	old[0].Ingesters[0].ConsecutiveFailures = 3

	d := Diff(old, newGen)
	require.True(t, d.Empty())
}
