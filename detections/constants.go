package detections

const (
	InputWidth    = 256
	InputHeight   = 256
	ConfThreshold = 0.8
	RetryAttempts = 3
	RetryDelayMs  = 100

	// YOLO head output: x, y, w, h, confidence for each anchor of the
	// 32x32, 16x16 and 8x8 grids.
	NumPredictions    = 1344
	PredictionChannel = 5

	EmbedderInputSize = 112
	EmbeddingSize     = 512

	DetectorInputName  = "images"
	DetectorOutputName = "output0"
	EmbedderInputName  = "input.1"
	EmbedderOutputName = "683"
)
