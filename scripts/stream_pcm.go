package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/scribe/pkg/audio"
	"github.com/spf13/viper"
)

const frameSamples = 4096

type clientConfig struct {
	Server struct {
		Addr          string `mapstructure:"addr"`
		WebsocketPath string `mapstructure:"ws_path"`
	} `mapstructure:"server"`
	Audio struct {
		SampleRate int `mapstructure:"sample_rate"`
		Channels   int `mapstructure:"channels"`
	} `mapstructure:"audio"`
}

func main() {
	configPath := flag.String("config", "config.yaml", "")
	wsURL := flag.String("url", "", "override websocket url")
	file := flag.String("file", "", "raw PCM16 little-endian file to stream")
	toneHz := flag.Float64("tone_hz", 440, "sine tone frequency when -file is empty")
	seconds := flag.Float64("seconds", 3, "tone length when -file is empty")
	realtime := flag.Bool("realtime", true, "pace frames at the capture sample rate")
	flag.Parse()

	cfg, err := loadClientConfig(*configPath)
	if err != nil && *wsURL == "" {
		fmt.Println("config error:", err)
		os.Exit(1)
	}
	url := *wsURL
	if url == "" {
		url = "ws://" + dialAddr(cfg.Server.Addr) + cfg.Server.WebsocketPath
	}

	var pcm []byte
	if *file != "" {
		pcm, err = os.ReadFile(*file)
		if err != nil {
			fmt.Println("read error:", err)
			os.Exit(1)
		}
	} else {
		pcm = sineTone(*toneHz, *seconds, cfg.Audio.SampleRate, cfg.Audio.Channels)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		fmt.Println("dial error:", err)
		os.Exit(1)
	}
	defer conn.Close()

	frameBytes := frameSamples * 2 * cfg.Audio.Channels
	interval := time.Duration(float64(time.Second) * frameSamples / float64(cfg.Audio.SampleRate))
	frames := 0
	for off := 0; off < len(pcm); off += frameBytes {
		end := min(off+frameBytes, len(pcm))
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[off:end]); err != nil {
			fmt.Println("write error:", err)
			os.Exit(1)
		}
		frames++
		if *realtime {
			time.Sleep(interval)
		}
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	fmt.Printf("sent %d frames (%d bytes, %s of audio) to %s\n",
		frames, len(pcm), audio.PCMDuration(int64(len(pcm)), cfg.Audio.SampleRate, cfg.Audio.Channels), url)
}

func sineTone(hz, seconds float64, rate, channels int) []byte {
	n := int(seconds * float64(rate))
	samples := make([]float32, 0, n*channels)
	for i := 0; i < n; i++ {
		v := float32(0.5 * math.Sin(2*math.Pi*hz*float64(i)/float64(rate)))
		for c := 0; c < channels; c++ {
			samples = append(samples, v)
		}
	}
	return audio.EncodeFrame(samples)
}

func loadClientConfig(path string) (clientConfig, error) {
	v := viper.New()
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.ws_path", "/ws")
	v.SetDefault("audio.sample_rate", 44100)
	v.SetDefault("audio.channels", 1)
	v.SetConfigFile(path)
	readErr := v.ReadInConfig()
	var cfg clientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	return cfg, readErr
}

func dialAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "127.0.0.1" + addr
	}
	return addr
}
