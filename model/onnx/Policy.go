// Package onnx implements a model.Policy backed by an exported ONNX
// policy network. It serves inference only; use it to run a trained
// policy outside the training server.
package onnx

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/goimpala/model"
)

// Policy runs an ONNX session whose single input is a batch of
// observation rows and whose single output is a batch of action
// probability rows
type Policy struct {
	session    *ort.DynamicAdvancedSession
	numActions int64
}

// NewPolicy loads the ONNX model at modelPath. The model must take one
// input named "states" of shape (batch, features) and produce one
// output named "policy" of shape (batch, numActions).
func NewPolicy(modelPath string, numActions int) (*Policy, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("newpolicy: could not initialize onnx "+
			"runtime: %v", err)
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{"states"},
		[]string{"policy"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("newpolicy: could not create session: %v", err)
	}

	return &Policy{session: session, numActions: int64(numActions)}, nil
}

// Predict implements model.Policy. It selects the most probable action
// per row.
func (p *Policy) Predict(states *tensor.Dense) ([]model.Prediction, error) {
	shape := states.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("predict: states must be a matrix, have "+
			"shape %v", shape)
	}
	batch, features := int64(shape[0]), int64(shape[1])

	data := states.Data().([]float64)
	inputData := make([]float32, len(data))
	for i, v := range data {
		inputData[i] = float32(v)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(batch, features),
		inputData)
	if err != nil {
		return nil, fmt.Errorf("predict: could not create input tensor: %v",
			err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewTensor(ort.NewShape(batch, p.numActions),
		make([]float32, batch*p.numActions))
	if err != nil {
		return nil, fmt.Errorf("predict: could not create output tensor: %v",
			err)
	}
	defer outputTensor.Destroy()

	err = p.session.Run(
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
	)
	if err != nil {
		return nil, fmt.Errorf("predict: inference failed: %v", err)
	}

	output := outputTensor.GetData()
	predictions := make([]model.Prediction, batch)
	for i := int64(0); i < batch; i++ {
		row := output[i*p.numActions : (i+1)*p.numActions]
		best := 0
		for j, prob := range row {
			if prob > row[best] {
				best = j
			}
		}
		predictions[i] = model.Prediction{
			ActionID: int64(best),
			Policy:   float64(row[best]),
		}
	}
	return predictions, nil
}

// Close releases the ONNX session
func (p *Policy) Close() error {
	if p.session != nil {
		if err := p.session.Destroy(); err != nil {
			return fmt.Errorf("close: could not destroy session: %v", err)
		}
		p.session = nil
	}
	return ort.DestroyEnvironment()
}

var _ model.Policy = (*Policy)(nil)
