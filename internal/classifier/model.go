// Package classifier stores and loads calibrated linear classifiers.
//
// Classifiers are serialized as a tree of typed nodes,
//
//	{"__class__": "sklearn.calibration.CalibratedClassifierCV", "state": {...}}
//
// mirroring the object layout of the scikit-learn release that trained them.
// Models written by releases 0.17.1, 0.22.1 and 1.1.3 are supported; see
// Decode for how older layouts are brought up to date.
package classifier

// CurrentLibraryVersion is the layout written by Encode.
const CurrentLibraryVersion = "1.1.3"

// SupportedVersions lists the library releases whose layouts Decode understands.
var SupportedVersions = []string{"0.17.1", "0.22.1", CurrentLibraryVersion}

// Classifier is a fitted CalibratedClassifierCV: a base SGD estimator plus one
// calibrated copy per cross-validation fold.
//
// Instances returned by Cache are shared and must not be modified.
type Classifier struct {
	Method                string
	CV                    any // fold count or "prefit"
	Classes               []int
	BaseEstimator         *SGDClassifier
	CalibratedClassifiers []*CalibratedClassifier
	LibraryVersion        string
}

// Fitted reports whether the classifier carries calibrated folds.
func (c *Classifier) Fitted() bool {
	return c != nil && len(c.CalibratedClassifiers) > 0
}

// CalibratedClassifier pairs a fold's estimator with its per-class calibrators.
//
// Classes and Calibrators are the current attribute names. Models from older
// releases only carry LegacyClasses (before 0.22) and LegacyCalibrators
// (before 0.24); Decode copies those across so the current names are always
// populated.
type CalibratedClassifier struct {
	Estimator         *SGDClassifier
	Method            string
	Classes           []int
	Calibrators       []*SigmoidCalibration
	LegacyClasses     []int
	LegacyCalibrators []*SigmoidCalibration
}

// SigmoidCalibration is Platt scaling: p = 1 / (1 + exp(A*f + B)).
type SigmoidCalibration struct {
	A              float64
	B              float64
	LibraryVersion string
}

type SGDClassifier struct {
	Loss           string
	LossFunction   *LossFunction
	Alpha          float64
	Coef           [][]float64
	Intercept      []float64
	Classes        []int
	LibraryVersion string
}

type LossFunction struct {
	Name      string // Hinge, Log, ModifiedHuber, SquaredHinge
	Threshold float64
}
