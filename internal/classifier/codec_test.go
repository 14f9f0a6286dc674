package classifier

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Written by 0.17.1: no version tags, pre-rename module paths, calibrated
// folds only carry classes_ and calibrators_.
const fixture0171 = `{
  "__class__": "sklearn.calibration.CalibratedClassifierCV",
  "state": {
    "method": "sigmoid",
    "cv": 3,
    "classes_": [0, 1],
    "base_estimator": {
      "__class__": "sklearn.linear_model.stochastic_gradient.SGDClassifier",
      "state": {"loss": "log", "alpha": 0.0001, "coef_": [], "intercept_": [], "classes_": []}
    },
    "calibrated_classifiers_": [
      {
        "__class__": "sklearn.calibration._CalibratedClassifier",
        "state": {
          "method": "sigmoid",
          "base_estimator": {
            "__class__": "sklearn.linear_model.stochastic_gradient.SGDClassifier",
            "state": {
              "loss": "log",
              "loss_function_": {"__class__": "sklearn.linear_model.sgd_fast.Log", "state": null},
              "alpha": 0.0001,
              "coef_": [[0.5, -1.25]],
              "intercept_": [0.1],
              "classes_": [0, 1]
            }
          },
          "classes_": [0, 1],
          "calibrators_": [
            {"__class__": "sklearn.calibration._SigmoidCalibration", "state": {"a_": -2.5, "b_": 0.25}}
          ]
        }
      }
    ]
  }
}`

// Written by 0.22.1: private module paths, "classes" present, calibrators
// still under the legacy name.
const fixture0221 = `{
  "__class__": "sklearn.calibration.CalibratedClassifierCV",
  "state": {
    "method": "sigmoid",
    "cv": 3,
    "classes_": [1, 2, 3],
    "_sklearn_version": "0.22.1",
    "calibrated_classifiers_": [
      {
        "__class__": "sklearn.calibration._CalibratedClassifier",
        "state": {
          "method": "sigmoid",
          "base_estimator": {
            "__class__": "sklearn.linear_model._stochastic_gradient.SGDClassifier",
            "state": {
              "loss": "hinge",
              "loss_function_": {"__class__": "sklearn.linear_model._sgd_fast.Hinge", "state": {"threshold": 1.0}},
              "alpha": 0.001,
              "coef_": [[1, 0], [0, 1], [1, 1]],
              "intercept_": [0, 0, 0],
              "classes_": [1, 2, 3],
              "_sklearn_version": "0.22.1"
            }
          },
          "classes": [1, 2, 3],
          "calibrators_": [
            {"__class__": "sklearn.calibration._SigmoidCalibration", "state": {"a_": -1, "b_": 0, "_sklearn_version": "0.22.1"}},
            {"__class__": "sklearn.calibration._SigmoidCalibration", "state": {"a_": -2, "b_": 0, "_sklearn_version": "0.22.1"}},
            {"__class__": "sklearn.calibration._SigmoidCalibration", "state": {"a_": -3, "b_": 0, "_sklearn_version": "0.22.1"}}
          ]
        }
      }
    ]
  }
}`

// Written by 1.1.3: current names everywhere.
const fixture113 = `{
  "__class__": "sklearn.calibration.CalibratedClassifierCV",
  "state": {
    "method": "sigmoid",
    "cv": "prefit",
    "classes_": [4, 7],
    "_sklearn_version": "1.1.3",
    "calibrated_classifiers_": [
      {
        "__class__": "sklearn.calibration._CalibratedClassifier",
        "state": {
          "method": "sigmoid",
          "base_estimator": {
            "__class__": "sklearn.linear_model._stochastic_gradient.SGDClassifier",
            "state": {
              "loss": "modified_huber",
              "loss_function_": {"__class__": "sklearn.linear_model._sgd_fast.ModifiedHuber", "state": null},
              "alpha": 0.01,
              "coef_": [[2]],
              "intercept_": [-1],
              "classes_": [4, 7],
              "_sklearn_version": "1.1.3"
            }
          },
          "classes": [4, 7],
          "calibrators": [
            {"__class__": "sklearn.calibration._SigmoidCalibration", "state": {"a_": -4, "b_": 1, "_sklearn_version": "1.1.3"}}
          ]
        }
      }
    ]
  }
}`

func decodeWithWarnings(t *testing.T, stream string) (*Classifier, []string, error) {
	t.Helper()
	var warnings []string
	codec := &Codec{Warn: func(msg string) { warnings = append(warnings, msg) }}
	clf, err := codec.Decode(strings.NewReader(stream))
	return clf, warnings, err
}

func TestDecode_0171BackfillsBothAttributes(t *testing.T) {
	clf, warnings, err := decodeWithWarnings(t, fixture0171)
	require.NoError(t, err)

	// Every estimator predates version tags; those advisories are dropped
	assert.Empty(t, warnings)

	require.Len(t, clf.CalibratedClassifiers, 1)
	cc := clf.CalibratedClassifiers[0]
	assert.Equal(t, []int{0, 1}, cc.Classes)
	require.Len(t, cc.Calibrators, 1)
	assert.Equal(t, -2.5, cc.Calibrators[0].A)
	assert.Equal(t, 0.25, cc.Calibrators[0].B)

	require.NotNil(t, cc.Estimator)
	require.NotNil(t, cc.Estimator.LossFunction)
	assert.Equal(t, "Log", cc.Estimator.LossFunction.Name)
	assert.Equal(t, [][]float64{{0.5, -1.25}}, cc.Estimator.Coef)

	require.NotNil(t, clf.BaseEstimator)
	assert.Equal(t, "log", clf.BaseEstimator.Loss)
	assert.Equal(t, float64(3), clf.CV)
	assert.True(t, clf.Fitted())
}

func TestDecode_0221BackfillsCalibrators(t *testing.T) {
	clf, warnings, err := decodeWithWarnings(t, fixture0221)
	require.NoError(t, err)

	cc := clf.CalibratedClassifiers[0]
	assert.Equal(t, []int{1, 2, 3}, cc.Classes)
	assert.Nil(t, cc.LegacyClasses)
	require.Len(t, cc.Calibrators, 3)
	assert.Equal(t, -3.0, cc.Calibrators[2].A)
	assert.Equal(t, "Hinge", cc.Estimator.LossFunction.Name)
	assert.Equal(t, 1.0, cc.Estimator.LossFunction.Threshold)

	require.NotEmpty(t, warnings)
	for _, w := range warnings {
		assert.Contains(t, w, "from version 0.22.1 when using version 1.1.3")
	}
}

func TestDecode_113NeedsNoBackfill(t *testing.T) {
	clf, warnings, err := decodeWithWarnings(t, fixture113)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	cc := clf.CalibratedClassifiers[0]
	assert.Equal(t, []int{4, 7}, cc.Classes)
	require.Len(t, cc.Calibrators, 1)
	assert.Equal(t, -4.0, cc.Calibrators[0].A)
	assert.Nil(t, cc.LegacyCalibrators)
	assert.Equal(t, "prefit", clf.CV)
	assert.Equal(t, "1.1.3", clf.LibraryVersion)
}

func TestDecode_PresentEmptyAttributeIsKept(t *testing.T) {
	stream := `{"__class__": "sklearn.calibration.CalibratedClassifierCV", "state": {
	  "method": "sigmoid", "calibrated_classifiers_": [
	    {"__class__": "sklearn.calibration._CalibratedClassifier", "state": {
	      "method": "sigmoid", "classes": [], "classes_": [5, 6], "calibrators": []}}
	  ]}}`

	clf, _, err := decodeWithWarnings(t, stream)
	require.NoError(t, err)

	cc := clf.CalibratedClassifiers[0]
	assert.NotNil(t, cc.Classes)
	assert.Empty(t, cc.Classes)
	assert.NotNil(t, cc.Calibrators)
	assert.Empty(t, cc.Calibrators)
}

func TestDecode_UnknownTypeIsCorrupt(t *testing.T) {
	stream := strings.Replace(fixture113, "_sgd_fast.ModifiedHuber", "_sgd_fast.Perceptron", 1)

	_, _, err := decodeWithWarnings(t, stream)
	require.ErrorIs(t, err, ErrCorrupt)
	assert.Contains(t, err.Error(), "Perceptron")
}

func TestDecode_CorruptStreams(t *testing.T) {
	tests := []struct {
		name   string
		stream string
	}{
		{"empty", ""},
		{"truncated", fixture113[:len(fixture113)/2]},
		{"not an object", `[1, 2, 3]`},
		{"missing class", `{"state": {}}`},
		{"malformed class", `{"__class__": "CalibratedClassifierCV", "state": {}}`},
		{"wrong root", `{"__class__": "sklearn.calibration._SigmoidCalibration", "state": {"a_": 1, "b_": 2}}`},
		{"bad zstd", string([]byte{0x28, 0xb5, 0x2f, 0xfd, 0x00, 0x01})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := decodeWithWarnings(t, tt.stream)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestDecode_LegacyPathsOnlyRemapKnownModules(t *testing.T) {
	stream := strings.Replace(fixture0171,
		"sklearn.linear_model.sgd_fast.Log", "sklearn.linear_model.sgd_slow.Log", 1)

	_, _, err := decodeWithWarnings(t, stream)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestEncode_RoundTripWritesCurrentLayout(t *testing.T) {
	for _, compress := range []bool{false, true} {
		clf, err := (&Codec{}).Decode(strings.NewReader(fixture0171))
		require.NoError(t, err)

		codec := &Codec{Compress: compress, Warn: func(msg string) {
			t.Errorf("unexpected warning after re-encode: %s", msg)
		}}

		var buf bytes.Buffer
		require.NoError(t, codec.Encode(&buf, clf))

		if compress {
			assert.True(t, bytes.HasPrefix(buf.Bytes(), zstdMagic))
		} else {
			out := buf.String()
			assert.Contains(t, out, `"classes":[0,1]`)
			assert.Contains(t, out, `"calibrators":[`)
			assert.Contains(t, out, "sklearn.linear_model._sgd_fast.Log")
			assert.NotContains(t, out, "calibrators_")
		}

		decoded, err := codec.Decode(&buf)
		require.NoError(t, err)

		cc := decoded.CalibratedClassifiers[0]
		assert.Equal(t, []int{0, 1}, cc.Classes)
		require.Len(t, cc.Calibrators, 1)
		assert.Equal(t, -2.5, cc.Calibrators[0].A)
		assert.Nil(t, cc.LegacyCalibrators)
		assert.Equal(t, CurrentLibraryVersion, decoded.LibraryVersion)
		assert.Equal(t, clf.BaseEstimator.Alpha, decoded.BaseEstimator.Alpha)
	}
}

func TestEncode_RefusesUnfitted(t *testing.T) {
	var buf bytes.Buffer
	err := Encode(&buf, &Classifier{Method: "sigmoid"})
	assert.ErrorIs(t, err, ErrNotFitted)
	assert.Zero(t, buf.Len())

	assert.ErrorIs(t, Encode(&buf, nil), ErrNotFitted)
}

func TestOutdatedAdvisoryPattern(t *testing.T) {
	d := &decoder{}
	d.checkVersion("SGDClassifier", "")
	d.checkVersion("SGDClassifier", "0.22.1")
	d.checkVersion("SGDClassifier", CurrentLibraryVersion)
	require.Len(t, d.warnings, 2)

	assert.True(t, outdatedAdvisory.MatchString(d.warnings[0]))
	assert.False(t, outdatedAdvisory.MatchString(d.warnings[1]))
}
