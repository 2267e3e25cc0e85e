package ic

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/astrofold/willow/lib/geom"
	"github.com/astrofold/willow/lib/particles"
)

func TestRead(t *testing.T) {
	text := `x,y,z,vx,vy,vz,m,h
0.1,0.2,0.3,1,0,0,0.5,0.05
0.4,0.5,0.6,0,-1,0,0.25,0.04
`
	fname := filepath.Join(t.TempDir(), "ic.csv")
	if err := ioutil.WriteFile(fname, []byte(text), 0644); err != nil {
		t.Fatal(err)
	}

	tab := particles.New(16)
	n, err := Read(fname, tab)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if n != 2 || tab.NReal != 2 {
		t.Fatalf("Read %d particles into a table of %d, expected 2.",
			n, tab.NReal)
	}

	if tab.R[0] != (geom.Vec{0.1, 0.2, 0.3}) ||
		tab.V[1] != (geom.Vec{0, -1, 0}) ||
		tab.M[1] != 0.25 || tab.H[0] != 0.05 {
		t.Errorf("Particles read back wrong: %v %v.", tab.R[0], tab.V[1])
	}
	if tab.IOrig[0] != 0 || tab.IOrig[1] != 1 {
		t.Errorf("Ids not assigned in file order: %d, %d.",
			tab.IOrig[0], tab.IOrig[1])
	}
}

func TestReadRejectsBadRows(t *testing.T) {
	tests := []string{
		"x,y,z,vx,vy,vz,m,h\n0,0,0,0,0,0,0,0.05\n",  // zero mass
		"x,y,z,vx,vy,vz,m,h\n0,0,0,0,0,0,0.5,-1\n",  // negative h
	}
	for i, text := range tests {
		fname := filepath.Join(t.TempDir(), "ic.csv")
		if err := ioutil.WriteFile(fname, []byte(text), 0644); err != nil {
			t.Fatal(err)
		}
		tab := particles.New(16)
		if _, err := Read(fname, tab); err == nil {
			t.Errorf("%d) Read accepted an invalid IC file.", i)
		}
	}
}

func TestReadRejectsOverfullFile(t *testing.T) {
	text := "x,y,z,vx,vy,vz,m,h\n" +
		"0.1,0,0,0,0,0,1,0.05\n0.2,0,0,0,0,0,1,0.05\n0.3,0,0,0,0,0,1,0.05\n"
	fname := filepath.Join(t.TempDir(), "ic.csv")
	if err := ioutil.WriteFile(fname, []byte(text), 0644); err != nil {
		t.Fatal(err)
	}

	tab := particles.New(2)
	if _, err := Read(fname, tab); err == nil {
		t.Errorf("Read accepted more particles than the table can hold.")
	}
}
