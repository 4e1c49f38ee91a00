package commands

import (
	"errors"
	"testing"

	"github.com/bryanchriswhite/screenmask/internal/capture"
	"github.com/bryanchriswhite/screenmask/internal/display"
)

func TestDuplicationColumn(t *testing.T) {
	list := []display.Descriptor{
		{ID: 0, X: 0, Y: 0, Width: 1920, Height: 1080},
		{ID: 1, X: 1920, Y: 0, Width: 1280, Height: 1024},
	}

	outputs := []capture.OutputBounds{{Left: 0, Top: 0, Right: 1919, Bottom: 1080}}
	col := duplicationColumn(list, outputs, nil)
	if col[0] != "Yes" || col[1] != "No" {
		t.Errorf("col = %v, want [Yes No]", col)
	}

	col = duplicationColumn(list, nil, capture.ErrNotSupported)
	if col[0] != "n/a" || col[1] != "n/a" {
		t.Errorf("unsupported col = %v, want n/a", col)
	}

	col = duplicationColumn(list, nil, errors.New("device lost"))
	if col[0] != "?" {
		t.Errorf("failed col = %v, want ?", col)
	}
}
