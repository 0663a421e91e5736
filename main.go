package main

import (
	"fmt"
	"log"

	"github.com/Tutortoise/face-attendance-service/config"
	"github.com/Tutortoise/face-attendance-service/detections"
	"github.com/Tutortoise/face-attendance-service/recognition"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	Execute()
}

// modelRuntime owns the onnxruntime environment and the session pools of the
// detector and the embedder.
type modelRuntime struct {
	Detector *detections.Detector
	Embedder *detections.Embedder
	pools    []*detections.SessionPool
}

func newModelRuntime(cfg config.ModelsConfig, rc config.RecognitionConfig) (*modelRuntime, error) {
	order, err := detections.ParseChannelOrder(rc.ChannelOrder)
	if err != nil {
		return nil, err
	}

	if err := detections.InitEnvironment(cfg.ONNXRuntimeLib); err != nil {
		return nil, err
	}

	rt := &modelRuntime{}
	detPool, err := detections.NewSessionPool("detector", cfg.PoolSize, func() (*detections.ModelSession, error) {
		return detections.NewModelSession(detections.DetectorSpec(cfg.DetectorModel))
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to create detector session pool: %w", err)
	}
	rt.pools = append(rt.pools, detPool)

	embPool, err := detections.NewSessionPool("embedder", cfg.PoolSize, func() (*detections.ModelSession, error) {
		return detections.NewModelSession(detections.EmbedderSpec(cfg.EmbedderModel))
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to create embedder session pool: %w", err)
	}
	rt.pools = append(rt.pools, embPool)

	rt.Detector = detections.NewDetector(detPool, order, float32(rc.DetectionConfidence), rc.ClusterIoU)
	rt.Embedder = detections.NewEmbedder(embPool, order)
	return rt, nil
}

func (rt *modelRuntime) Close() {
	for _, p := range rt.pools {
		p.Destroy()
	}
	detections.DestroyEnvironment()
}

// newEngine applies the recognition tunables to an engine.
func newEngine(det recognition.Detector, emb recognition.Embedder, dir recognition.Directory, rc config.RecognitionConfig) (*recognition.Engine, error) {
	metric, err := recognition.ParseMetric(rc.Metric)
	if err != nil {
		return nil, err
	}
	engine := recognition.NewEngine(det, emb, dir)
	engine.Scale = rc.Downscale
	engine.Tolerance = rc.Tolerance
	engine.Metric = metric
	return engine, nil
}
