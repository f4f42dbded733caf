package model

import (
	"time"

	"github.com/pkg/errors"

	"github.com/23skdu/longbow-rat/internal/config"
	"github.com/23skdu/longbow-rat/internal/encoder"
	"github.com/23skdu/longbow-rat/internal/logger"
	"github.com/23skdu/longbow-rat/internal/metrics"
	"github.com/23skdu/longbow-rat/internal/nn"
	"github.com/23skdu/longbow-rat/internal/tensor"
)

// RAT scores a target instance from its own features and the labelled
// neighbours retrieved for it. The joint (B, K+1, F+1, d) tensor puts the
// target at instance 0 and the label (or marker) at position 0; the encoder
// output at [:, 0, 0, :] is the pooled representation.
type RAT struct {
	cfg config.Config
	ctx *nn.Context
	log *logger.Logger

	embedding *EmbeddingLayer
	labels    *LabelEmbedding
	embDrop   *nn.Dropout
	encoder   *encoder.Encoder
	fc        *nn.Linear
	dnn       *nn.MLP  // nil without dnn_hidden_units
	lr        *LRLayer // nil unless use_wide
}

// New builds a model in eval mode from a validated config.
func New(cfg config.Config) (*RAT, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx := nn.NewContext(cfg.Seed)
	d, f := cfg.EmbeddingDim, cfg.NumFields()

	m := &RAT{
		cfg:       cfg,
		ctx:       ctx,
		log:       logger.Log.With("component", "model", "model_id", cfg.ModelID),
		embedding: NewEmbeddingLayer(ctx, cfg.Features, d, cfg.EmbeddingInitStd),
		labels:    NewLabelEmbedding(ctx, d),
		embDrop:   nn.NewDropout(ctx, cfg.EmbeddingDropout),
	}

	enc, err := encoder.NewEncoder(ctx, cfg.Depth, encoder.BlockConfig{
		Dim:              d,
		NumHeads:         cfg.NumHeads,
		HeadDim:          cfg.HeadDim,
		HiddenDim:        cfg.HiddenDim(),
		AttentionDropout: cfg.AttentionDropout,
		FFNDropout:       cfg.FFNDropout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "building encoder")
	}
	m.encoder = enc
	m.fc = nn.NewLinear(ctx, d, 1, true)

	if len(cfg.DNNHiddenUnits) > 0 {
		act, err := nn.ParseActivation(cfg.DNNActivations)
		if err != nil {
			return nil, errors.Wrap(config.ErrInvalidConfig, err.Error())
		}
		m.dnn = nn.NewMLP(ctx, f*d, 1, cfg.DNNHiddenUnits, act, cfg.NetDropout)
	}
	if cfg.UseWide {
		m.lr = NewLRLayer(ctx, cfg.Features, cfg.EmbeddingInitStd)
	}

	metrics.SetModelParameters(ctx.NumParameters())
	m.log.Info("model built",
		"parameters", ctx.NumParameters(),
		"fields", f,
		"depth", cfg.Depth,
		"effective_heads", cfg.NumHeads/2,
		"dnn", m.dnn != nil,
		"wide", m.lr != nil)
	return m, nil
}

func (m *RAT) Config() config.Config {
	return m.cfg
}

func (m *RAT) NumParameters() int {
	return m.ctx.NumParameters()
}

// Train enables dropout. Forward is not safe for concurrent use in training
// mode.
func (m *RAT) Train() { m.ctx.Train() }

func (m *RAT) Eval() { m.ctx.Eval() }

func (m *RAT) validate(b *Batch) (int, error) {
	k, err := b.Validate(m.cfg.NumFields())
	if err == nil && m.cfg.TopK > 0 && k != m.cfg.TopK {
		err = errors.Wrapf(ErrInvalidBatch, "batch carries %d neighbours, model expects top_k=%d", k, m.cfg.TopK)
	}
	if err != nil {
		kind := "invalid_batch"
		if errors.Is(err, ErrNonUniformRetrieval) {
			kind = "non_uniform_retrieval"
		}
		metrics.RecordValidationError("forward", kind)
		return 0, err
	}
	return k, nil
}

// JointTensor assembles the (B, K+1, F+1, d) encoder input, before
// embedding dropout. It also returns the (B, K+1, F, d) field embeddings.
func (m *RAT) JointTensor(b *Batch) (joint, fields *tensor.Tensor, err error) {
	if _, err := m.validate(b); err != nil {
		return nil, nil, err
	}
	return m.joint(b)
}

func (m *RAT) joint(b *Batch) (joint, fields *tensor.Tensor, err error) {
	fields, err = m.embedding.Forward(b.X)
	if err != nil {
		return nil, nil, errors.Wrap(err, "embedding features")
	}
	labels, err := m.labels.Forward(b.labelTokens())
	if err != nil {
		return nil, nil, errors.Wrap(err, "embedding labels")
	}
	joint, err = tensor.Concat(2, labels, fields)
	if err != nil {
		return nil, nil, err
	}
	return joint, fields, nil
}

// Pooled runs the encoder and returns the (B, d) target representation.
func (m *RAT) Pooled(b *Batch) (*tensor.Tensor, error) {
	if _, err := m.validate(b); err != nil {
		return nil, err
	}
	joint, _, err := m.joint(b)
	if err != nil {
		return nil, err
	}
	return m.pool(joint)
}

func (m *RAT) pool(joint *tensor.Tensor) (*tensor.Tensor, error) {
	x, err := m.embDrop.Forward(joint)
	if err != nil {
		return nil, err
	}
	if x, err = m.encoder.Forward(x); err != nil {
		return nil, errors.Wrap(err, "encoder")
	}
	nan, inf := tensor.CountNonFinite(x.Data())
	metrics.RecordNumericalInstability("encoder_output", nan, inf)

	target, err := tensor.Select(x, 1, 0)
	if err != nil {
		return nil, err
	}
	return tensor.Select(target, 1, 0)
}

// Forward scores every target in the batch.
func (m *RAT) Forward(b *Batch) (*Result, error) {
	start := time.Now()
	k, err := m.validate(b)
	if err != nil {
		return nil, err
	}
	joint, fields, err := m.joint(b)
	if err != nil {
		return nil, err
	}
	pooled, err := m.pool(joint)
	if err != nil {
		return nil, err
	}

	y, err := m.fc.Forward(pooled)
	if err != nil {
		return nil, errors.Wrap(err, "fc")
	}
	if m.dnn != nil {
		target, err := tensor.Select(fields, 1, 0)
		if err != nil {
			return nil, err
		}
		flat, err := target.Reshape(b.Size(), m.cfg.NumFields()*m.cfg.EmbeddingDim)
		if err != nil {
			return nil, err
		}
		deep, err := m.dnn.Forward(flat)
		if err != nil {
			return nil, errors.Wrap(err, "dnn")
		}
		if y, err = tensor.Add(y, deep); err != nil {
			return nil, err
		}
	}
	if m.lr != nil {
		raw := make([][]float64, b.Size())
		for i, t := range b.targets() {
			raw[i] = t[0]
		}
		wide, err := m.lr.Forward(raw)
		if err != nil {
			return nil, errors.Wrap(err, "wide")
		}
		if y, err = tensor.Add(y, wide); err != nil {
			return nil, err
		}
	}
	if m.cfg.IsClassification() {
		y = tensor.Apply(y, tensor.Sigmoid)
	}

	res := &Result{YTrue: make([]float64, b.Size()), YPred: make([]float64, b.Size())}
	for i := range res.YTrue {
		res.YTrue[i] = b.Y[i][0]
	}
	copy(res.YPred, y.Data())

	nan, inf := tensor.CountNonFinite(res.YPred)
	metrics.RecordNumericalInstability("y_pred", nan, inf)
	metrics.RecordRetrievalCount(k)
	metrics.RecordPredictionScores(res.YPred)
	metrics.RecordForward(b.Size(), time.Since(start))
	m.log.Debug("forward", "batch", b.Size(), "k", k, "duration", time.Since(start))
	return res, nil
}
