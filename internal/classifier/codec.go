package classifier

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"github.com/sashko-guz/spacer/internal/logger"
	"github.com/sashko-guz/spacer/internal/metrics"
)

var (
	// ErrCorrupt is returned when a stream cannot be decoded into a classifier,
	// including when it references a type that cannot be resolved.
	ErrCorrupt = errors.New("corrupt classifier stream")
	// ErrNotFitted is returned by Encode for classifiers without calibrated folds.
	ErrNotFitted = errors.New("only fitted classifiers can be stored")
)

var codecLog = logger.New("ClassifierCodec")

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// legacyModules maps module paths that later releases removed to the module
// that now exports the same types. Importing from most submodules was
// deprecated in 0.22 and removed in 0.24.
var legacyModules = map[string]string{
	"sklearn.linear_model.sgd_fast":            "sklearn.linear_model",
	"sklearn.linear_model.stochastic_gradient": "sklearn.linear_model",
}

// outdatedAdvisory matches the advisory raised for models written before
// release 0.18, which did not record their version. Every supported 0.17
// model triggers it, so it carries no information.
var outdatedAdvisory = regexp.MustCompile(`^Trying to decode estimator [A-Za-z_]+ from version pre-0\.18`)

// Codec converts classifiers to and from their serialized form.
// The zero value is ready to use.
type Codec struct {
	// Warn receives decode diagnostics other than the pre-0.18 version
	// advisory. Defaults to the package logger.
	Warn func(msg string)
	// Compress makes Encode write zstd frames. Decode detects compression
	// on its own.
	Compress bool
}

var defaultCodec = &Codec{}

// Decode reads one classifier with the default codec.
func Decode(r io.Reader) (*Classifier, error) {
	return defaultCodec.Decode(r)
}

// Encode writes clf with the default codec.
func Encode(w io.Writer, clf *Classifier) error {
	return defaultCodec.Encode(w, clf)
}

// Decode reads one classifier from r. It runs in two passes:
//
//  1. Structural decode. Every node's __class__ is resolved against the known
//     types, after rewriting the module path through legacyModules. Anything
//     still unknown fails with ErrCorrupt.
//  2. Back-fill. Calibrated folds missing "classes" or "calibrators" get them
//     from "classes_" and "calibrators_".
//
// Layouts from releases other than SupportedVersions may decode into an
// incorrect object.
func (c *Codec) Decode(r io.Reader) (*Classifier, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read classifier stream: %w", err)
	}

	if bytes.HasPrefix(data, zstdMagic) {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("init zstd decoder: %w", err)
		}
		data, err = dec.DecodeAll(data, nil)
		dec.Close()
		if err != nil {
			return nil, fmt.Errorf("decompress classifier: %w: %v", ErrCorrupt, err)
		}
	}

	d := &decoder{}
	root, err := d.object(json.RawMessage(data))
	c.flushWarnings(d.warnings)
	if err != nil {
		return nil, err
	}

	clf, ok := root.(*Classifier)
	if !ok {
		return nil, fmt.Errorf("root object is %T, not a calibrated classifier: %w", root, ErrCorrupt)
	}

	backfill(clf)
	return clf, nil
}

func (c *Codec) flushWarnings(warnings []string) {
	for _, msg := range warnings {
		if outdatedAdvisory.MatchString(msg) {
			metrics.CodecWarnings.WithLabelValues("suppressed").Inc()
			continue
		}
		metrics.CodecWarnings.WithLabelValues("surfaced").Inc()
		if c.Warn != nil {
			c.Warn(msg)
		} else {
			codecLog.Warnf("%s", msg)
		}
	}
}

// backfill populates the current attribute names of every calibrated fold
// from their legacy counterparts when the stream did not carry them.
func backfill(clf *Classifier) {
	for _, cc := range clf.CalibratedClassifiers {
		// "classes" appeared between 0.17.1 and 0.22.1
		if cc.Classes == nil {
			cc.Classes = cc.LegacyClasses
		}
		// "calibrators" appeared between 0.22.1 and 0.24.2
		if cc.Calibrators == nil {
			cc.Calibrators = cc.LegacyCalibrators
		}
	}
}

// Encode writes clf in the current layout.
func (c *Codec) Encode(w io.Writer, clf *Classifier) error {
	if !clf.Fitted() {
		return ErrNotFitted
	}

	data, err := encodeClassifier(clf)
	if err != nil {
		return err
	}

	if c.Compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return fmt.Errorf("init zstd encoder: %w", err)
		}
		data = enc.EncodeAll(data, nil)
		if err := enc.Close(); err != nil {
			return fmt.Errorf("close zstd encoder: %w", err)
		}
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write classifier: %w", err)
	}
	return nil
}

// node is the envelope around every typed object in a stream.
type node struct {
	Class string          `json:"__class__"`
	State json.RawMessage `json:"state"`
}

type constructor func(d *decoder, state json.RawMessage) (any, error)

// knownTypes maps fully qualified type paths to constructors. Filled in init
// because the constructors recurse through it.
var knownTypes map[string]constructor

func init() {
	knownTypes = map[string]constructor{
		"sklearn.calibration.CalibratedClassifierCV":              decodeCalibratedCV,
		"sklearn.calibration._CalibratedClassifier":               decodeCalibrated,
		"sklearn.calibration._SigmoidCalibration":                 decodeSigmoid,
		"sklearn.linear_model.SGDClassifier":                      decodeSGD,
		"sklearn.linear_model._stochastic_gradient.SGDClassifier": decodeSGD,
	}
	for _, name := range []string{"Hinge", "Log", "ModifiedHuber", "SquaredHinge"} {
		knownTypes["sklearn.linear_model."+name] = lossConstructor(name)
		knownTypes["sklearn.linear_model._sgd_fast."+name] = lossConstructor(name)
	}
}

// resolveType looks up a type path, consulting legacyModules first.
func resolveType(path string) (constructor, error) {
	i := strings.LastIndex(path, ".")
	if i <= 0 || i == len(path)-1 {
		return nil, fmt.Errorf("malformed type reference %q: %w", path, ErrCorrupt)
	}
	module, name := path[:i], path[i+1:]
	if mapped, ok := legacyModules[module]; ok {
		module = mapped
	}
	ctor, ok := knownTypes[module+"."+name]
	if !ok {
		return nil, fmt.Errorf("cannot resolve type %s.%s: %w", module, name, ErrCorrupt)
	}
	return ctor, nil
}

type decoder struct {
	warnings []string
}

func (d *decoder) warnf(format string, args ...any) {
	d.warnings = append(d.warnings, fmt.Sprintf(format, args...))
}

// checkVersion records the advisory raised when an estimator was written by
// a different release.
func (d *decoder) checkVersion(estimator, version string) {
	if version == CurrentLibraryVersion {
		return
	}
	if version == "" {
		version = "pre-0.18"
	}
	d.warnf("Trying to decode estimator %s from version %s when using version %s. This might lead to breaking code or invalid results. Use at your own risk.",
		estimator, version, CurrentLibraryVersion)
}

func (d *decoder) object(raw json.RawMessage) (any, error) {
	var n node
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("decode node: %w: %v", ErrCorrupt, err)
	}
	if n.Class == "" {
		return nil, fmt.Errorf("node without __class__: %w", ErrCorrupt)
	}
	ctor, err := resolveType(n.Class)
	if err != nil {
		return nil, err
	}
	obj, err := ctor(d, n.State)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", n.Class, err)
	}
	return obj, nil
}

func (d *decoder) sgd(raw json.RawMessage) (*SGDClassifier, error) {
	if isNull(raw) {
		return nil, nil
	}
	obj, err := d.object(raw)
	if err != nil {
		return nil, err
	}
	est, ok := obj.(*SGDClassifier)
	if !ok {
		return nil, fmt.Errorf("expected SGDClassifier, got %T: %w", obj, ErrCorrupt)
	}
	return est, nil
}

func (d *decoder) sigmoids(raws []json.RawMessage) ([]*SigmoidCalibration, error) {
	out := make([]*SigmoidCalibration, 0, len(raws))
	for _, raw := range raws {
		obj, err := d.object(raw)
		if err != nil {
			return nil, err
		}
		cal, ok := obj.(*SigmoidCalibration)
		if !ok {
			return nil, fmt.Errorf("expected _SigmoidCalibration, got %T: %w", obj, ErrCorrupt)
		}
		out = append(out, cal)
	}
	return out, nil
}

func unmarshalState(raw json.RawMessage, v any) error {
	if isNull(raw) {
		return fmt.Errorf("missing state: %w", ErrCorrupt)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode state: %w: %v", ErrCorrupt, err)
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

type calibratedCVState struct {
	Method                string            `json:"method"`
	CV                    any               `json:"cv"`
	Classes               []int             `json:"classes_"`
	BaseEstimator         json.RawMessage   `json:"base_estimator,omitempty"`
	CalibratedClassifiers []json.RawMessage `json:"calibrated_classifiers_"`
	Version               string            `json:"_sklearn_version,omitempty"`
}

type calibratedState struct {
	BaseEstimator     json.RawMessage    `json:"base_estimator,omitempty"`
	Method            string             `json:"method"`
	Classes           *[]int             `json:"classes,omitempty"`
	LegacyClasses     []int              `json:"classes_,omitempty"`
	Calibrators       *[]json.RawMessage `json:"calibrators,omitempty"`
	LegacyCalibrators []json.RawMessage  `json:"calibrators_,omitempty"`
}

type sigmoidState struct {
	A       float64 `json:"a_"`
	B       float64 `json:"b_"`
	Version string  `json:"_sklearn_version,omitempty"`
}

type sgdState struct {
	Loss         string          `json:"loss"`
	LossFunction json.RawMessage `json:"loss_function_,omitempty"`
	Alpha        float64         `json:"alpha"`
	Coef         [][]float64     `json:"coef_"`
	Intercept    []float64       `json:"intercept_"`
	Classes      []int           `json:"classes_"`
	Version      string          `json:"_sklearn_version,omitempty"`
}

type lossState struct {
	Threshold float64 `json:"threshold,omitempty"`
}

func decodeCalibratedCV(d *decoder, raw json.RawMessage) (any, error) {
	var st calibratedCVState
	if err := unmarshalState(raw, &st); err != nil {
		return nil, err
	}
	d.checkVersion("CalibratedClassifierCV", st.Version)

	base, err := d.sgd(st.BaseEstimator)
	if err != nil {
		return nil, fmt.Errorf("base_estimator: %w", err)
	}

	clf := &Classifier{
		Method:         st.Method,
		CV:             st.CV,
		Classes:        st.Classes,
		BaseEstimator:  base,
		LibraryVersion: st.Version,
	}
	for i, ccRaw := range st.CalibratedClassifiers {
		obj, err := d.object(ccRaw)
		if err != nil {
			return nil, fmt.Errorf("calibrated_classifiers_[%d]: %w", i, err)
		}
		cc, ok := obj.(*CalibratedClassifier)
		if !ok {
			return nil, fmt.Errorf("calibrated_classifiers_[%d]: expected _CalibratedClassifier, got %T: %w", i, obj, ErrCorrupt)
		}
		clf.CalibratedClassifiers = append(clf.CalibratedClassifiers, cc)
	}
	return clf, nil
}

func decodeCalibrated(d *decoder, raw json.RawMessage) (any, error) {
	var st calibratedState
	if err := unmarshalState(raw, &st); err != nil {
		return nil, err
	}

	est, err := d.sgd(st.BaseEstimator)
	if err != nil {
		return nil, fmt.Errorf("base_estimator: %w", err)
	}

	cc := &CalibratedClassifier{
		Estimator:     est,
		Method:        st.Method,
		LegacyClasses: st.LegacyClasses,
	}
	// A present but empty list must stay non-nil so back-fill leaves it alone
	if st.Classes != nil {
		cc.Classes = append([]int{}, (*st.Classes)...)
	}
	if st.Calibrators != nil {
		if cc.Calibrators, err = d.sigmoids(*st.Calibrators); err != nil {
			return nil, fmt.Errorf("calibrators: %w", err)
		}
	}
	if st.LegacyCalibrators != nil {
		if cc.LegacyCalibrators, err = d.sigmoids(st.LegacyCalibrators); err != nil {
			return nil, fmt.Errorf("calibrators_: %w", err)
		}
	}
	return cc, nil
}

func decodeSigmoid(d *decoder, raw json.RawMessage) (any, error) {
	var st sigmoidState
	if err := unmarshalState(raw, &st); err != nil {
		return nil, err
	}
	d.checkVersion("_SigmoidCalibration", st.Version)
	return &SigmoidCalibration{A: st.A, B: st.B, LibraryVersion: st.Version}, nil
}

func decodeSGD(d *decoder, raw json.RawMessage) (any, error) {
	var st sgdState
	if err := unmarshalState(raw, &st); err != nil {
		return nil, err
	}
	d.checkVersion("SGDClassifier", st.Version)

	est := &SGDClassifier{
		Loss:           st.Loss,
		Alpha:          st.Alpha,
		Coef:           st.Coef,
		Intercept:      st.Intercept,
		Classes:        st.Classes,
		LibraryVersion: st.Version,
	}
	if !isNull(st.LossFunction) {
		obj, err := d.object(st.LossFunction)
		if err != nil {
			return nil, fmt.Errorf("loss_function_: %w", err)
		}
		lf, ok := obj.(*LossFunction)
		if !ok {
			return nil, fmt.Errorf("loss_function_: expected loss, got %T: %w", obj, ErrCorrupt)
		}
		est.LossFunction = lf
	}
	return est, nil
}

func lossConstructor(name string) constructor {
	return func(d *decoder, raw json.RawMessage) (any, error) {
		var st lossState
		// Loss objects without parameters are written with a null state
		if !isNull(raw) {
			if err := unmarshalState(raw, &st); err != nil {
				return nil, err
			}
		}
		return &LossFunction{Name: name, Threshold: st.Threshold}, nil
	}
}

const (
	typeCalibratedCV = "sklearn.calibration.CalibratedClassifierCV"
	typeCalibrated   = "sklearn.calibration._CalibratedClassifier"
	typeSigmoid      = "sklearn.calibration._SigmoidCalibration"
	typeSGD          = "sklearn.linear_model._stochastic_gradient.SGDClassifier"
	lossModule       = "sklearn.linear_model._sgd_fast"
)

func encodeNode(class string, state any) (json.RawMessage, error) {
	stateRaw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", class, err)
	}
	return json.Marshal(node{Class: class, State: stateRaw})
}

func encodeClassifier(clf *Classifier) ([]byte, error) {
	st := calibratedCVState{
		Method:  clf.Method,
		CV:      clf.CV,
		Classes: clf.Classes,
		Version: CurrentLibraryVersion,
	}

	var err error
	if st.BaseEstimator, err = encodeSGD(clf.BaseEstimator); err != nil {
		return nil, err
	}
	for _, cc := range clf.CalibratedClassifiers {
		raw, err := encodeCalibrated(cc)
		if err != nil {
			return nil, err
		}
		st.CalibratedClassifiers = append(st.CalibratedClassifiers, raw)
	}
	return encodeNode(typeCalibratedCV, st)
}

func encodeCalibrated(cc *CalibratedClassifier) (json.RawMessage, error) {
	est, err := encodeSGD(cc.Estimator)
	if err != nil {
		return nil, err
	}

	classes := cc.Classes
	if classes == nil {
		classes = cc.LegacyClasses
	}
	calibrators := cc.Calibrators
	if calibrators == nil {
		calibrators = cc.LegacyCalibrators
	}

	cals := make([]json.RawMessage, 0, len(calibrators))
	for _, cal := range calibrators {
		raw, err := encodeNode(typeSigmoid, sigmoidState{A: cal.A, B: cal.B, Version: CurrentLibraryVersion})
		if err != nil {
			return nil, err
		}
		cals = append(cals, raw)
	}

	return encodeNode(typeCalibrated, calibratedState{
		BaseEstimator: est,
		Method:        cc.Method,
		Classes:       &classes,
		Calibrators:   &cals,
	})
}

func encodeSGD(est *SGDClassifier) (json.RawMessage, error) {
	if est == nil {
		return nil, nil
	}

	st := sgdState{
		Loss:      est.Loss,
		Alpha:     est.Alpha,
		Coef:      est.Coef,
		Intercept: est.Intercept,
		Classes:   est.Classes,
		Version:   CurrentLibraryVersion,
	}
	if est.LossFunction != nil {
		raw, err := encodeNode(lossModule+"."+est.LossFunction.Name, lossState{Threshold: est.LossFunction.Threshold})
		if err != nil {
			return nil, err
		}
		st.LossFunction = raw
	}
	return encodeNode(typeSGD, st)
}
