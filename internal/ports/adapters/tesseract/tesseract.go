package tesseract

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/forPelevin/sessionscribe/internal/types"
)

type Adapter struct {
	bin  string
	lang string
}

func New(bin, lang string) *Adapter {
	if bin == "" {
		bin = "tesseract"
	}
	if lang == "" {
		lang = "eng"
	}
	return &Adapter{bin: bin, lang: lang}
}

func (a *Adapter) Name() string { return "tesseract" }

// ExtractText runs tesseract with TSV output and folds the word rows into
// one block per text line.
func (a *Adapter) ExtractText(ctx context.Context, imagePath string) (types.OCRResult, error) {
	cmd := exec.CommandContext(ctx, a.bin, imagePath, "stdout", "-l", a.lang, "tsv")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return types.OCRResult{}, fmt.Errorf("tesseract failed: %w\n%s", err, stderr.String())
	}
	res, err := parseTSV(out)
	if err != nil {
		return types.OCRResult{}, err
	}
	res.Engine = a.Name()
	return res, nil
}

type lineKey struct{ block, par, line int }

type lineAcc struct {
	words       []string
	confSum     float64
	x0, y0      int
	x1, y1      int
	hasGeometry bool
}

func parseTSV(b []byte) (types.OCRResult, error) {
	sc := bufio.NewScanner(bytes.NewReader(b))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var (
		order   []lineKey
		lines   = map[lineKey]*lineAcc{}
		confSum float64
		nWords  int
		header  = true
	)
	for sc.Scan() {
		row := sc.Text()
		if header {
			header = false
			if strings.HasPrefix(row, "level") {
				continue
			}
		}
		cols := strings.Split(row, "\t")
		if len(cols) < 12 || cols[0] != "5" {
			continue
		}
		text := strings.TrimSpace(strings.Join(cols[11:], "\t"))
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || conf < 0 || text == "" {
			continue
		}
		n := make([]int, 8)
		for i := range n {
			if n[i], err = strconv.Atoi(cols[i+2]); err != nil {
				return types.OCRResult{}, fmt.Errorf("tesseract tsv: bad column %d in %q", i+2, row)
			}
		}
		k := lineKey{n[0], n[1], n[2]}
		left, top, w, h := n[4], n[5], n[6], n[7]

		acc, ok := lines[k]
		if !ok {
			acc = &lineAcc{}
			lines[k] = acc
			order = append(order, k)
		}
		acc.words = append(acc.words, text)
		acc.confSum += conf
		if !acc.hasGeometry {
			acc.x0, acc.y0, acc.x1, acc.y1 = left, top, left+w, top+h
			acc.hasGeometry = true
		} else {
			acc.x0 = min(acc.x0, left)
			acc.y0 = min(acc.y0, top)
			acc.x1 = max(acc.x1, left+w)
			acc.y1 = max(acc.y1, top+h)
		}
		confSum += conf
		nWords++
	}
	if err := sc.Err(); err != nil {
		return types.OCRResult{}, fmt.Errorf("tesseract tsv: %w", err)
	}

	res := types.OCRResult{Blocks: []types.OCRBlock{}}
	texts := make([]string, 0, len(order))
	for _, k := range order {
		acc := lines[k]
		text := strings.Join(acc.words, " ")
		texts = append(texts, text)
		res.Blocks = append(res.Blocks, types.OCRBlock{
			Text:       text,
			Confidence: acc.confSum / float64(len(acc.words)) / 100,
			BBox:       types.Rect{X: acc.x0, Y: acc.y0, Width: acc.x1 - acc.x0, Height: acc.y1 - acc.y0},
		})
	}
	res.Text = strings.Join(texts, "\n")
	if nWords > 0 {
		res.Confidence = confSum / float64(nWords) / 100
	}
	return res, nil
}
