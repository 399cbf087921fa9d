package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/ivlev/stagecast/internal/config"
	"github.com/ivlev/stagecast/internal/events"
	"github.com/ivlev/stagecast/internal/ops"
	"github.com/ivlev/stagecast/internal/pipeline"
	"github.com/ivlev/stagecast/internal/player"
	"github.com/ivlev/stagecast/internal/system"
)

// findLatestManifest ищет самый свежий JSON-манифест в указанной директории
func findLatestManifest(dir string) (string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var latestFile string
	var latestTime time.Time

	for _, f := range files {
		if !f.IsDir() && strings.HasSuffix(strings.ToLower(f.Name()), ".json") {
			info, err := f.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(latestTime) {
				latestTime = info.ModTime()
				latestFile = filepath.Join(dir, f.Name())
			}
		}
	}

	if latestFile == "" {
		return "", fmt.Errorf("в папке %s не найдено манифестов", dir)
	}

	return latestFile, nil
}

type editDoc struct {
	Type    string         `yaml:"type"`
	Payload map[string]any `yaml:"payload"`
}

// loadEdits читает список правок из YAML или JSON файла
func loadEdits(path string) ([]pipeline.Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var docs []editDoc
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, err
	}

	out := make([]pipeline.Descriptor, 0, len(docs))
	for _, d := range docs {
		payload, err := json.Marshal(d.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, pipeline.Descriptor{Type: ops.Type(d.Type), Payload: payload})
	}
	return out, nil
}

// parseFrameList разбирает "0,45,89" в список кадров
func parseFrameList(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	frames := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("неверный номер кадра %q: %w", p, err)
		}
		frames = append(frames, v)
	}
	return frames, nil
}

func exportFrame(p *player.Player, frame float64, outDir string) (string, error) {
	if err := p.GoToFrame(context.Background(), frame); err != nil {
		return "", err
	}
	pix := p.Stage().Pixmap()
	if pix == nil {
		return "", fmt.Errorf("кадр %g не отрендерен", frame)
	}

	path := filepath.Join(outDir, fmt.Sprintf("frame_%05d.png", int(frame)))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := png.Encode(f, pix); err != nil {
		return "", err
	}
	return path, nil
}

func main() {
	manifestPtr := flag.String("manifest", "", "Путь к JSON-манифесту (по умолчанию: самый свежий файл в input/manifests/)")
	editsPtr := flag.String("edits", "", "YAML/JSON файл со списком правок, применяемых при загрузке")
	configPtr := flag.String("config", "stagecast.yaml", "Путь к конфигурации")
	outPtr := flag.String("out", "output", "Директория для экспорта кадров")
	framesPtr := flag.String("frames", "", "Кадры для экспорта в PNG, через запятую (например: 0,45,89)")
	playPtr := flag.Float64("play", 0, "Проиграть композицию N секунд реального времени со сбором статистики")
	statsPtr := flag.Bool("stats", true, "Печатать статистику после проигрывания")

	flag.Parse()

	cfg, err := config.Load(*configPtr)
	if err != nil {
		log.Fatalf("[-] Ошибка конфигурации: %v", err)
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Logging.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	}

	system.InitResourceLimits(logger)

	dirs := []string{"input/manifests", "input/assets", *outPtr}
	for _, d := range dirs {
		os.MkdirAll(d, 0755)
	}

	manifestPath := *manifestPtr
	if manifestPath == "" {
		latest, err := findLatestManifest("input/manifests")
		if err != nil {
			log.Fatalf("[-] Ошибка: %v. Положите манифест в input/manifests/", err)
		}
		manifestPath = latest
		fmt.Printf("[*] Выбран манифест: %s\n", manifestPath)
	}

	manifestJSON, err := os.ReadFile(manifestPath)
	if err != nil {
		log.Fatalf("[-] Ошибка чтения манифеста: %v", err)
	}

	var initial []pipeline.Descriptor
	if *editsPtr != "" {
		initial, err = loadEdits(*editsPtr)
		if err != nil {
			log.Fatalf("[-] Ошибка чтения правок: %v", err)
		}
		fmt.Printf("[*] Загружено правок: %d\n", len(initial))
	}

	p := player.New(cfg, nil, logger)
	defer p.Destroy()

	ctx := context.Background()
	if err := p.Setup(ctx, manifestJSON, initial); err != nil {
		log.Fatalf("[-] Ошибка загрузки композиции: %v", err)
	}

	m := p.Manifest()
	fmt.Println("--- [STAGECAST PLAYER] ---")
	fmt.Printf("[*] Манифест: %s | Слоёв: %d\n", manifestPath, len(m.Layers))
	fmt.Printf("[*] Сцена: %dx%d @ %.0f FPS | Кадров: %.0f\n", m.Width, m.Height, m.Framerate, p.Duration())
	fmt.Println("--------------------------")

	if frames, err := parseFrameList(*framesPtr); err != nil {
		log.Fatalf("[-] %v", err)
	} else {
		for _, frame := range frames {
			path, err := exportFrame(p, frame, *outPtr)
			if err != nil {
				log.Printf("[!] Кадр %g: %v", frame, err)
				continue
			}
			fmt.Printf("[>] Кадр %g -> %s\n", frame, path)
		}
	}

	if *playPtr > 0 {
		runPlayback(ctx, p, *playPtr, *statsPtr)
	}

	fmt.Printf("[+++] Готово. Текущий кадр: %.0f\n", p.CurrentTime())
}

// runPlayback проигрывает композицию и собирает статистику реального FPS
func runPlayback(ctx context.Context, p *player.Player, seconds float64, stats bool) {
	var (
		samples  int
		fpsSum   float64
		fpsMin   = -1.0
		fpsMax   float64
		seekSum  time.Duration
		complete = make(chan struct{}, 1)
	)

	fpsID := p.On(events.UpdateRealFPS, func(ev events.Event) {
		samples++
		fpsSum += ev.FPS
		if fpsMin < 0 || ev.FPS < fpsMin {
			fpsMin = ev.FPS
		}
		if ev.FPS > fpsMax {
			fpsMax = ev.FPS
		}
		seekSum += ev.Elapsed
	})
	defer p.Off(events.UpdateRealFPS, fpsID)

	doneID := p.On(events.PlaybackComplete, func(ev events.Event) {
		select {
		case complete <- struct{}{}:
		default:
		}
	})
	defer p.Off(events.PlaybackComplete, doneID)

	fmt.Printf("[*] Проигрывание %.1fs...\n", seconds)
	start := time.Now()
	if err := p.Play(ctx); err != nil {
		log.Printf("[!] Ошибка запуска: %v", err)
		return
	}

	select {
	case <-complete:
		fmt.Println("[*] Композиция доиграла до конца")
	case <-time.After(time.Duration(seconds * float64(time.Second))):
		if err := p.Stop(ctx); err != nil {
			log.Printf("[!] Ошибка остановки: %v", err)
		}
	}

	if !stats {
		return
	}

	elapsed := time.Since(start)
	fmt.Println("--- [СТАТИСТИКА] ---")
	fmt.Printf("[*] Время: %.2fs | Кадр: %.0f из %.0f\n", elapsed.Seconds(), p.CurrentTime(), p.Duration())
	if samples > 0 {
		fmt.Printf("[*] FPS: средний %.1f | мин %.1f | макс %.1f\n", fpsSum/float64(samples), fpsMin, fpsMax)
		fmt.Printf("[*] Среднее время seek: %s\n", seekSum/time.Duration(samples))
	}
	snap := system.Sample()
	fmt.Printf("[*] CPU: %.1f%% | RSS: %d MB | Горутин: %d\n", snap.CPUPercent, snap.RSSBytes/1024/1024, snap.Goroutines)
}
