package workflow

import (
	"fmt"
	"math/rand/v2"

	"github.com/kiranshivaraju/reelforge/pkg/models"
)

// Node ids of the fixed video pipeline.
const (
	SamplerNode    = "3"
	CheckpointNode = "4"
	LatentNode     = "5"
	PositiveNode   = "6"
	NegativeNode   = "7"
	DecodeNode     = "8"
	SaveNode       = "9"
	OverlayNode    = "10"
)

// Engine class types used by the pipeline.
const (
	ClassSampler    = "KSampler"
	ClassCheckpoint = "CheckpointLoaderSimple"
	ClassLatent     = "EmptyLatentImage"
	ClassTextEncode = "CLIPTextEncode"
	ClassDecode     = "VAEDecode"
	ClassSave       = "SaveImage"
	ClassOverlay    = "LoraLoader"
)

// Checkpoint loader outputs: model, clip, vae. The overlay loader
// re-exports model and clip in the same slots.
const (
	slotModel = 0
	slotClip  = 1
	slotVAE   = 2
)

const (
	DefaultNegativePrompt = "blurry, low quality, distorted"
	OutputPrefix          = "ComfyUI_video"
)

// maxSeed keeps seeds within the 48-bit range the engine UI uses.
const maxSeed = 1 << 48

// Compiler turns generation requests into engine workflow graphs.
// Compile is deterministic apart from the value returned by Seed.
type Compiler struct {
	Seed func() int64
}

func NewCompiler() *Compiler {
	return &Compiler{Seed: randomSeed}
}

func randomSeed() int64 {
	return rand.Int64N(maxSeed)
}

// Compile builds the sampler → decode → save pipeline for req. When an
// overlay is requested a LoraLoader is inserted between the checkpoint and
// its consumers. The request is expected to have passed Validate.
func (c *Compiler) Compile(req models.GenerationRequest) (Graph, error) {
	seed := c.Seed
	if seed == nil {
		seed = randomSeed
	}

	b := NewBuilder().
		Add(SamplerNode, Node{
			ClassType: ClassSampler,
			Inputs: map[string]any{
				"seed":         seed(),
				"steps":        20,
				"cfg":          8.0,
				"sampler_name": "euler",
				"scheduler":    "normal",
				"denoise":      1.0,
				"model":        Link{CheckpointNode, slotModel},
				"positive":     Link{PositiveNode, 0},
				"negative":     Link{NegativeNode, 0},
				"latent_image": Link{LatentNode, 0},
			},
			Meta: Meta{Title: "KSampler"},
		}).
		Add(CheckpointNode, Node{
			ClassType: ClassCheckpoint,
			Inputs:    map[string]any{"ckpt_name": req.Checkpoint},
			Meta:      Meta{Title: "Load Checkpoint"},
		}).
		Add(LatentNode, Node{
			ClassType: ClassLatent,
			Inputs: map[string]any{
				"width":      req.Width,
				"height":     req.Height,
				"batch_size": req.ClampedFrames(),
			},
			Meta: Meta{Title: "Empty Latent Image"},
		}).
		Add(PositiveNode, Node{
			ClassType: ClassTextEncode,
			Inputs: map[string]any{
				"text": req.Prompt,
				"clip": Link{CheckpointNode, slotClip},
			},
			Meta: Meta{Title: "CLIP Text Encode (Prompt)"},
		}).
		Add(NegativeNode, Node{
			ClassType: ClassTextEncode,
			Inputs: map[string]any{
				"text": DefaultNegativePrompt,
				"clip": Link{CheckpointNode, slotClip},
			},
			Meta: Meta{Title: "CLIP Text Encode (Negative)"},
		}).
		Add(DecodeNode, Node{
			ClassType: ClassDecode,
			Inputs: map[string]any{
				"samples": Link{SamplerNode, 0},
				"vae":     Link{CheckpointNode, slotVAE},
			},
			Meta: Meta{Title: "VAE Decode"},
		}).
		Add(SaveNode, Node{
			ClassType: ClassSave,
			Inputs: map[string]any{
				"filename_prefix": OutputPrefix,
				"images":          Link{DecodeNode, 0},
			},
			Meta: Meta{Title: "Save Image"},
		})

	if req.Overlay != nil {
		b.Add(OverlayNode, Node{
			ClassType: ClassOverlay,
			Inputs: map[string]any{
				"lora_name":      *req.Overlay,
				"strength_model": 1.0,
				"strength_clip":  1.0,
				"model":          Link{CheckpointNode, slotModel},
				"clip":           Link{CheckpointNode, slotClip},
			},
			Meta: Meta{Title: "Load LoRA"},
		}).
			Rewire(SamplerNode, "model", Link{OverlayNode, slotModel}).
			Rewire(PositiveNode, "clip", Link{OverlayNode, slotClip}).
			Rewire(NegativeNode, "clip", Link{OverlayNode, slotClip})
	}

	g, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("building workflow: %w", err)
	}
	return g, nil
}
