package utils

import (
	"math/rand"
	"time"

	"github.com/dustin/go-humanize"
)

// DateLayout is the layout used for every timestamp shown to the user.
const DateLayout = "02-01-2006 15:04:05"

// FormatSize renders n bytes with binary units (1.5 KiB, 32 MiB).
func FormatSize(n int) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

// FormatDate renders t in local time.
func FormatDate(t time.Time) string {
	return t.Local().Format(DateLayout)
}

// Percent returns part as a percentage of whole, 0 for an empty whole.
func Percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

// RandString returns random string with length n
func RandString(n int) string {
	var letter = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789.!?-_=+<>")
	b := make([]rune, n)
	for i := range b {
		b[i] = letter[rand.Intn(len(letter))]
	}
	return string(b)
}
