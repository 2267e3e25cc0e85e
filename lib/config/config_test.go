package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrofold/willow/lib/geom"
	"github.com/astrofold/willow/lib/gravity"
	"github.com/astrofold/willow/lib/tree"
)

func TestReadFile(t *testing.T) {
	text := `[tree]
Nmax = 10000
Nleafmax = 6
Split = midpoint
RebuildPeriod = 4

[gravity]
Mac = eigen
Thetamaxsqd = 0.2
Macerror = 0.001
Multipole = quadrupole

[ghost]
GhostRange = 1.4
KernRange = 2.0

[domain]
XBound = periodic
XMin = 0
XMax = 2
YBound = mirror
YMin = -1
YMax = 1

[run]
Ranks = 2
Threads = 4
Diag = stats.csv
`
	fname := filepath.Join(t.TempDir(), "willow.config")
	require.NoError(t, ioutil.WriteFile(fname, []byte(text), 0644))

	cfg, err := Read(fname)
	require.NoError(t, err)

	assert.Equal(t, 10000, cfg.NMax)
	assert.Equal(t, 6, cfg.Nleafmax)
	assert.Equal(t, 40000, cfg.NCellMax)
	assert.Equal(t, tree.MidpointSplit{}, cfg.Split)
	assert.Equal(t, 4, cfg.RebuildPeriod)
	assert.Equal(t, 1, cfg.StockPeriod)

	assert.True(t, cfg.MAC.Eigen)
	assert.Equal(t, 0.2, cfg.MAC.ThetaMaxSqd)
	assert.Equal(t, 0.001, cfg.MAC.MacError)
	assert.Equal(t, gravity.Quadrupole, cfg.Multipole)

	assert.Equal(t, 1.4, cfg.GhostRange)

	assert.Equal(t, geom.Periodic, cfg.Domain.Bound[0])
	assert.Equal(t, geom.Mirror, cfg.Domain.Bound[1])
	assert.Equal(t, geom.Open, cfg.Domain.Bound[2])
	assert.Equal(t, 2.0, cfg.Domain.Width(0))

	assert.Equal(t, 2, cfg.Ranks)
	assert.Equal(t, 4, cfg.Threads)
	assert.Equal(t, "stats.csv", cfg.Diag)
}

func TestResolveDefaults(t *testing.T) {
	f := DefaultFile()
	f.Tree.Nmax = 1000

	cfg, err := f.Resolve()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Nleafmax)
	assert.Equal(t, tree.MedianSplit{}, cfg.Split)
	assert.False(t, cfg.MAC.Eigen)
	assert.Equal(t, gravity.Monopole, cfg.Multipole)
	assert.True(t, cfg.Domain.AllOpen())
	assert.Equal(t, 1, cfg.Ranks)
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name string
		edit func(f *File)
	}{
		{"no nmax", func(f *File) {}},
		{"bad nleafmax", func(f *File) { f.Tree.Nleafmax = 0 }},
		{"bad split", func(f *File) { f.Tree.Split = "quartile" }},
		{"bad rebuild period", func(f *File) { f.Tree.RebuildPeriod = 0 }},
		{"negative prune level", func(f *File) { f.Tree.PruneLevel = -1 }},
		{"bad mac", func(f *File) { f.Gravity.Mac = "exact" }},
		{"bad thetamaxsqd", func(f *File) { f.Gravity.Thetamaxsqd = 0 }},
		{"eigen without macerror", func(f *File) {
			f.Gravity.Mac = "eigen"
			f.Gravity.Macerror = 0
		}},
		{"bad multipole", func(f *File) { f.Gravity.Multipole = "octupole" }},
		{"bad ghost range", func(f *File) { f.Ghost.GhostRange = 0.5 }},
		{"bad boundary", func(f *File) { f.Domain.XBound = "absorbing" }},
		{"degenerate periodic axis", func(f *File) {
			f.Domain.XBound = "periodic"
			f.Domain.XMin, f.Domain.XMax = 1, 1
		}},
		{"bad ranks", func(f *File) { f.Run.Ranks = 0 }},
		{"bad worktol", func(f *File) { f.Run.WorkTol = 0.7 }},
		{"bad snapshot template", func(f *File) {
			f.Run.Snapshot = "snap.{%d,step.wsnap"
		}},
	}

	for i := range tests {
		f := DefaultFile()
		f.Tree.Nmax = 1000
		if tests[i].name == "no nmax" {
			f.Tree.Nmax = 0
		}
		tests[i].edit(&f)

		if _, err := f.Resolve(); err == nil {
			t.Errorf("%d) Expected '%s' to fail to resolve.",
				i, tests[i].name)
		}
	}
}
