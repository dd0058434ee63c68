package ocr

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/nikhilbhutani/noteuploader/pkg/imageio"
)

// TesseractEngine shells out to the tesseract binary and reads its TSV
// output. Each recognized text line becomes one observation.
type TesseractEngine struct {
	tesseractPath string
	run           func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func NewTesseractEngine(path string) *TesseractEngine {
	if path == "" {
		path, _ = exec.LookPath("tesseract")
	}
	if path == "" {
		path = "tesseract"
	}
	return &TesseractEngine{tesseractPath: path, run: runCommand}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

func (e *TesseractEngine) Name() string { return "tesseract" }

// Ping checks that the tesseract binary can be executed.
func (e *TesseractEngine) Ping(ctx context.Context) error {
	if _, err := e.run(ctx, e.tesseractPath, "--version"); err != nil {
		return fmt.Errorf("run %s: %w", e.tesseractPath, err)
	}
	return nil
}

func (e *TesseractEngine) Recognize(ctx context.Context, img image.Image, cfg Config) ([]Observation, error) {
	if img == nil {
		return nil, ErrImageConversion
	}
	data, err := imageio.EncodePNG(Prepare(img, cfg))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageConversion, err)
	}

	tmp, err := os.CreateTemp("", "ocr-*.png")
	if err != nil {
		return nil, fmt.Errorf("create temp image: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp image: %w", err)
	}

	out, err := e.run(ctx, e.tesseractPath, tesseractArgs(tmp.Name(), cfg)...)
	if err != nil {
		return nil, fmt.Errorf("%w: tesseract: %v", ErrRecognition, err)
	}
	return ParseTSV(out)
}

func tesseractArgs(imagePath string, cfg Config) []string {
	langs := "eng"
	if len(cfg.Languages) > 0 {
		langs = strings.Join(cfg.Languages, "+")
	}
	args := []string{imagePath, "stdout", "-l", langs, "--psm", "3"}
	if cfg.Level == LevelAccurate {
		args = append(args, "--oem", "1")
	}
	if !cfg.LanguageCorrection {
		args = append(args, "-c", "load_system_dawg=0", "-c", "load_freq_dawg=0")
	}
	return append(args, "tsv")
}

const (
	tsvLevel = iota
	tsvPage
	tsvBlock
	tsvPar
	tsvLine
	tsvWord
	tsvLeft
	tsvTop
	tsvWidth
	tsvHeight
	tsvConf
	tsvText
	tsvColumns
)

type lineKey struct{ page, block, par, line int }

type lineAcc struct {
	words  []string
	conf   float64
	bounds image.Rectangle
}

// ParseTSV groups tesseract's word rows into lines, keeping the order in
// which lines first appear.
func ParseTSV(out []byte) ([]Observation, error) {
	var (
		order []lineKey
		lines = map[lineKey]*lineAcc{}
	)
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	header := true
	for sc.Scan() {
		if header {
			header = false
			if strings.HasPrefix(sc.Text(), "level") {
				continue
			}
		}
		cols := strings.Split(sc.Text(), "\t")
		if len(cols) < tsvColumns {
			continue
		}
		if cols[tsvLevel] != "5" {
			continue
		}
		text := strings.TrimSpace(cols[tsvText])
		if text == "" {
			continue
		}
		nums, err := atoiAll(cols[tsvPage : tsvHeight+1])
		if err != nil {
			return nil, fmt.Errorf("parse tsv row: %w", err)
		}
		conf, err := strconv.ParseFloat(cols[tsvConf], 64)
		if err != nil {
			return nil, fmt.Errorf("parse tsv confidence: %w", err)
		}

		key := lineKey{page: nums[0], block: nums[1], par: nums[2], line: nums[3]}
		box := image.Rect(nums[5], nums[6], nums[5]+nums[7], nums[6]+nums[8])
		acc, ok := lines[key]
		if !ok {
			acc = &lineAcc{bounds: box}
			lines[key] = acc
			order = append(order, key)
		}
		acc.words = append(acc.words, text)
		acc.conf += conf
		acc.bounds = acc.bounds.Union(box)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read tsv: %w", err)
	}

	obs := make([]Observation, 0, len(order))
	for _, k := range order {
		acc := lines[k]
		obs = append(obs, Observation{
			Bounds: acc.bounds,
			Candidates: []Candidate{{
				Text:       strings.Join(acc.words, " "),
				Confidence: acc.conf / float64(len(acc.words)) / 100,
			}},
		})
	}
	return obs, nil
}

func atoiAll(s []string) ([]int, error) {
	out := make([]int, len(s))
	for i, v := range s {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}
