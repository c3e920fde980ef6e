// Package vision labels medical scan images with an ONNX classifier.
// Image-only uploads have no text layer, so the labels stand in as the
// document context for the rest of the ingestion pipeline.
package vision

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/image/draw"
)

// ImageNet normalization, matching the classifier's training pipeline.
var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

const (
	inputWidth  = 224
	inputHeight = 224
)

// ScanLabeler runs ONNX inference over a scan image and returns the label
// names whose softmax probability clears the confidence threshold, best
// first. The label file pairs one label per line with the model's output
// index, e.g. "chest x-ray" or "knee mri".
type ScanLabeler struct {
	mu sync.Mutex

	modelPath  string
	labelsPath string
	libPath    string
	topK       int
	minScore   float32

	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	labels  []string
	inited  bool
}

func NewScanLabeler(modelPath, labelsPath, onnxLibPath string, topK int, minScore float32) *ScanLabeler {
	if topK <= 0 {
		topK = 3
	}
	if minScore <= 0 {
		minScore = 0.2
	}
	return &ScanLabeler{
		modelPath:  modelPath,
		labelsPath: labelsPath,
		libPath:    onnxLibPath,
		topK:       topK,
		minScore:   minScore,
	}
}

// Labels classifies the scan and returns passing label names.
func (s *ScanLabeler) Labels(imageData []byte) ([]string, error) {
	if err := s.initOnce(); err != nil {
		return nil, err
	}

	img, err := decodeScan(imageData)
	if err != nil {
		return nil, fmt.Errorf("decode scan image: %w", err)
	}
	inputData := preprocess(img)

	s.mu.Lock()
	inData := s.input.GetData()
	if len(inData) < len(inputData) {
		s.mu.Unlock()
		return nil, fmt.Errorf("input tensor size %d < preprocessed %d", len(inData), len(inputData))
	}
	copy(inData, inputData)
	err = s.session.Run()
	var logits []float32
	if err == nil {
		logits = append([]float32(nil), s.output.GetData()...)
	}
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}

	probs := softmax(logits)
	type scored struct {
		idx   int
		score float32
	}
	ranked := make([]scored, len(probs))
	for i, p := range probs {
		ranked[i] = scored{i, p}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	var out []string
	for i := 0; i < len(ranked) && len(out) < s.topK; i++ {
		if ranked[i].score < s.minScore {
			break
		}
		if ranked[i].idx < len(s.labels) {
			out = append(out, s.labels[ranked[i].idx])
		}
	}
	return out, nil
}

// initOnce lazily loads the ONNX runtime, the label file, and the session.
func (s *ScanLabeler) initOnce() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inited {
		return nil
	}

	if s.libPath != "" {
		ort.SetSharedLibraryPath(s.libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("onnx init environment: %w", err)
	}

	labels, err := loadLabels(s.labelsPath)
	if err != nil {
		return fmt.Errorf("load scan labels: %w", err)
	}
	s.labels = labels

	inputs, outputs, err := ort.GetInputOutputInfo(s.modelPath)
	if err != nil {
		return fmt.Errorf("onnx get input/output info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return fmt.Errorf("onnx model has no inputs or outputs")
	}

	inputTensor, err := ort.NewEmptyTensor[float32](inputs[0].Dimensions)
	if err != nil {
		return fmt.Errorf("onnx new input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](outputs[0].Dimensions)
	if err != nil {
		inputTensor.Destroy()
		return fmt.Errorf("onnx new output tensor: %w", err)
	}

	inputNames := make([]string, len(inputs))
	for i := range inputs {
		inputNames[i] = inputs[i].Name
	}
	outputNames := make([]string, len(outputs))
	for i := range outputs {
		outputNames[i] = outputs[i].Name
	}

	session, err := ort.NewAdvancedSession(s.modelPath, inputNames, outputNames,
		[]ort.Value{inputTensor}, []ort.Value{outputTensor}, nil)
	if err != nil {
		outputTensor.Destroy()
		inputTensor.Destroy()
		return fmt.Errorf("onnx new session: %w", err)
	}

	s.input = inputTensor
	s.output = outputTensor
	s.session = session
	s.inited = true
	return nil
}

func loadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var labels []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		labels = append(labels, strings.TrimSpace(sc.Text()))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return labels, nil
}

func decodeScan(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err == nil {
		return img, nil
	}
	if img, jerr := jpeg.Decode(bytes.NewReader(data)); jerr == nil {
		return img, nil
	}
	if img, perr := png.Decode(bytes.NewReader(data)); perr == nil {
		return img, nil
	}
	return nil, err
}

// preprocess resizes to 224x224 RGB and lays the pixels out NCHW with
// ImageNet normalization.
func preprocess(img image.Image) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, inputWidth, inputHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	out := make([]float32, 1*3*inputHeight*inputWidth)
	const size = inputWidth * inputHeight
	for y := 0; y < inputHeight; y++ {
		for x := 0; x < inputWidth; x++ {
			idx := y*inputWidth + x
			c := dst.RGBAAt(x, y)
			r, g, b := float32(c.R)/255.0, float32(c.G)/255.0, float32(c.B)/255.0
			out[0*size+idx] = (r - imagenetMean[0]) / imagenetStd[0]
			out[1*size+idx] = (g - imagenetMean[1]) / imagenetStd[1]
			out[2*size+idx] = (b - imagenetMean[2]) / imagenetStd[2]
		}
	}
	return out
}

func softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}
	var sum float64
	exps := make([]float64, len(logits))
	for i, v := range logits {
		exps[i] = math.Exp(float64(v - max))
		sum += exps[i]
	}
	out := make([]float32, len(logits))
	for i := range exps {
		out[i] = float32(exps[i] / sum)
	}
	return out
}
