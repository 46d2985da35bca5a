package main_test

import (
	"os/exec"
	"testing"
)

// BenchmarkBinaryStartup measures process launch to exit for
// "xraysync version".
func BenchmarkBinaryStartup(b *testing.B) {
	bin := buildBinary(b)

	b.ResetTimer()
	b.ReportAllocs()

	for b.Loop() {
		if err := exec.Command(bin, "version").Run(); err != nil {
			b.Fatalf("xraysync version failed: %v", err)
		}
	}
}

// BenchmarkBinaryHelp includes help text generation for the full tree.
func BenchmarkBinaryHelp(b *testing.B) {
	bin := buildBinary(b)

	b.ResetTimer()
	b.ReportAllocs()

	for b.Loop() {
		_ = exec.Command(bin, "--help").Run()
	}
}
