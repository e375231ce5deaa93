package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "0 B", FormatSize(-1))
	assert.Equal(t, "512 B", FormatSize(512))
	assert.Equal(t, "1.5 KiB", FormatSize(1536))
	assert.Equal(t, "32 MiB", FormatSize(32<<20))
}

func TestFormatDate(t *testing.T) {
	ts := time.Date(2023, 5, 1, 8, 4, 9, 0, time.Local)
	assert.Equal(t, "01-05-2023 08:04:09", FormatDate(ts))
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0.0, Percent(3, 0))
	assert.InDelta(t, 25.0, Percent(1, 4), 1e-9)
}

func TestRandString(t *testing.T) {
	s := RandString(31)
	assert.Len(t, s, 31)
	assert.False(t, strings.Contains(s, "/"))
}
