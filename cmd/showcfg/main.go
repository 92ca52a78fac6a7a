package main

import (
	"flag"
	"fmt"
	"os"

	"parley/internal/config"
	"parley/internal/segment"
)

func main() {
	path := flag.String("config", "", "config file")
	flag.Parse()
	cfg, err := config.Load(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	s := segment.FromConfig(cfg)
	fmt.Printf("config=%s\n", cfg.Paths.ConfigPath)
	fmt.Printf("sample_rate=%d clock=%s\n", s.SampleRate, s.Clock)
	fmt.Printf("vad enabled=%t backend=%s chunk=%d samples\n", s.VADEnabled, cfg.VAD.Backend, s.VADChunk)
	fmt.Printf("asr backend=%s chunk=%d samples shape=%v look_back=%d/%d\n",
		cfg.ASR.Backend, s.ASRChunk, s.Params.Shape, s.Params.EncoderLookBack, s.Params.DecoderLookBack)
	fmt.Printf("punctuation enabled=%t backend=%s\n", s.PunctuationEnabled, cfg.Punctuation.Backend)
	fmt.Printf("max_segment=%s idle_sleep=%s join_timeout=%s\n", s.MaxSegmentDuration, s.IdleSleep, s.JoinTimeout)
	fmt.Printf("hook.command=%q\n", cfg.Hook.Command)
}
