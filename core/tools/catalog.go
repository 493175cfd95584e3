package tools

import (
	"time"

	"github.com/adalundhe/ascent/core/project"
)

// BuiltinCatalog returns the fixed data-science tool set. The statistical and
// ML internals are opaque sandbox scripts; only their input/output contracts
// live here.
func BuiltinCatalog() []Descriptor {
	return []Descriptor{
		descriptiveStatistics(),
		exploratoryDataAnalysis(),
		hyperImputeImputation(),
		featureSelection(),
		autoprognosisClassification(),
		autoprognosisRegression(),
		autoprognosisSurvival(),
		featureImportance(),
		shapExplainer(),
	}
}

// NewBuiltinRegistry builds and seals a registry holding the builtin catalog.
func NewBuiltinRegistry() (*Registry, error) {
	registry := NewRegistry()
	for _, desc := range BuiltinCatalog() {
		if err := registry.Register(desc); err != nil {
			return nil, err
		}
	}
	registry.Seal()
	return registry, nil
}

func datasetParam() ParamSpec {
	return ParamSpec{
		Name:        "dataset",
		Type:        TypeString,
		Description: "Name of the dataset artifact to operate on.",
		Required:    true,
	}
}

func targetParam(required bool) ParamSpec {
	return ParamSpec{
		Name:        "target",
		Type:        TypeString,
		Description: "Name of the target column.",
		Required:    required,
	}
}

func descriptiveStatistics() Descriptor {
	return Descriptor{
		Name: "DescriptiveStatistics",
		Description: "Compute per-column descriptive statistics for a dataset: " +
			"counts, missingness, means, quantiles, and cardinalities.",
		Params: []ParamSpec{
			datasetParam(),
			{
				Name:        "columns",
				Type:        TypeArray,
				Items:       TypeString,
				Description: "Restrict the report to these columns. All columns when omitted.",
			},
		},
		Effects: SideEffects{
			ReadsArtifacts:  []string{"dataset"},
			WritesArtifacts: []string{"statistics_report"},
		},
		Stage: project.StageExplore,
		Impl:  Impl{Script: "descriptive_statistics.py", Packages: []string{"pandas", "numpy"}, Pure: true},
	}
}

func exploratoryDataAnalysis() Descriptor {
	return Descriptor{
		Name: "ExploratoryDataAnalysis",
		Description: "Run exploratory data analysis on a dataset and produce " +
			"distribution plots, correlation matrices, and a narrative summary.",
		Params: []ParamSpec{
			datasetParam(),
			targetParam(false),
		},
		Effects: SideEffects{
			ReadsArtifacts:  []string{"dataset"},
			WritesArtifacts: []string{"eda_report"},
		},
		Stage: project.StageExplore,
		Impl:  Impl{Script: "exploratory_data_analysis.py", Packages: []string{"pandas", "matplotlib", "seaborn"}, Pure: true},
	}
}

func hyperImputeImputation() Descriptor {
	one := 1.0
	return Descriptor{
		Name: "HyperImputeImputation",
		Description: "Impute missing values in a dataset using HyperImpute's " +
			"automatic imputer selection, producing a new dataset version.",
		Params: []ParamSpec{
			datasetParam(),
			{
				Name:        "method",
				Type:        TypeString,
				Description: "Imputation strategy.",
				Enum:        []string{"auto", "mean", "median", "most_frequent", "mice", "missforest"},
			},
			{
				Name:        "max_missing_fraction",
				Type:        TypeNumber,
				Description: "Drop columns whose missing fraction exceeds this bound.",
				Minimum:     float64Ptr(0),
				Maximum:     &one,
			},
		},
		Effects: SideEffects{
			ReadsArtifacts:  []string{"dataset"},
			WritesArtifacts: []string{"dataset"},
		},
		Stage: project.StageEngineer,
		Impl:  Impl{Script: "hyperimpute_imputation.py", Packages: []string{"hyperimpute"}, Timeout: 30 * time.Minute},
	}
}

func featureSelection() Descriptor {
	return Descriptor{
		Name: "FeatureSelection",
		Description: "Select an informative feature subset for the target " +
			"column and write the reduced dataset as a new version.",
		Params: []ParamSpec{
			datasetParam(),
			targetParam(true),
			{
				Name:        "max_features",
				Type:        TypeInteger,
				Description: "Upper bound on the number of selected features.",
				Minimum:     float64Ptr(1),
			},
		},
		Effects: SideEffects{
			ReadsArtifacts:  []string{"dataset"},
			WritesArtifacts: []string{"dataset"},
		},
		Stage: project.StageEngineer,
		Impl:  Impl{Script: "feature_selection.py", Packages: []string{"scikit-learn"}},
	}
}

func autoprognosisClassification() Descriptor {
	return automlDescriptor(
		"AutoprognosisClassification",
		"Run an AutoPrognosis AutoML study for a classification target and "+
			"store the best pipeline as a trained model artifact.",
		"autoprognosis_classification.py",
	)
}

func autoprognosisRegression() Descriptor {
	return automlDescriptor(
		"AutoprognosisRegression",
		"Run an AutoPrognosis AutoML study for a regression target and "+
			"store the best pipeline as a trained model artifact.",
		"autoprognosis_regression.py",
	)
}

func autoprognosisSurvival() Descriptor {
	desc := automlDescriptor(
		"AutoprognosisSurvival",
		"Run an AutoPrognosis AutoML study for time-to-event analysis and "+
			"store the best pipeline as a trained model artifact.",
		"autoprognosis_survival.py",
	)
	desc.Params = append(desc.Params, ParamSpec{
		Name:        "time_column",
		Type:        TypeString,
		Description: "Name of the time-to-event column.",
		Required:    true,
	})
	return desc
}

func automlDescriptor(name, description, script string) Descriptor {
	return Descriptor{
		Name:        name,
		Description: description,
		Params: []ParamSpec{
			datasetParam(),
			targetParam(true),
			{
				Name:        "num_iter",
				Type:        TypeInteger,
				Description: "AutoML search iterations.",
				Minimum:     float64Ptr(1),
				Maximum:     float64Ptr(1000),
			},
		},
		Effects: SideEffects{
			ReadsArtifacts:  []string{"dataset"},
			WritesArtifacts: []string{"model", "model_report"},
		},
		Stage: project.StageModel,
		Impl:  Impl{Script: script, Packages: []string{"autoprognosis"}, Timeout: 2 * time.Hour},
	}
}

func featureImportance() Descriptor {
	return Descriptor{
		Name: "FeatureImportance",
		Description: "Compute permutation feature importance for a trained " +
			"model on a dataset and produce an importance report with plots.",
		Params: []ParamSpec{
			datasetParam(),
			targetParam(true),
			{
				Name:        "n_repeats",
				Type:        TypeInteger,
				Description: "Permutation repetitions per feature.",
				Minimum:     float64Ptr(1),
				Maximum:     float64Ptr(100),
			},
		},
		Effects: SideEffects{
			ReadsArtifacts:  []string{"dataset", "model"},
			WritesArtifacts: []string{"importance_report"},
			RequiresModel:   true,
		},
		Stage: project.StageExplain,
		Impl:  Impl{Script: "feature_importance.py", Packages: []string{"scikit-learn"}, Pure: true},
	}
}

func shapExplainer() Descriptor {
	return Descriptor{
		Name: "ShapExplainer",
		Description: "Explain a trained model's predictions with SHAP values " +
			"and produce summary and dependence plots.",
		Params: []ParamSpec{
			datasetParam(),
			{
				Name:        "max_samples",
				Type:        TypeInteger,
				Description: "Subsample bound for the explainer background set.",
				Minimum:     float64Ptr(10),
			},
		},
		Effects: SideEffects{
			ReadsArtifacts:  []string{"dataset", "model"},
			WritesArtifacts: []string{"explanation_report"},
			RequiresModel:   true,
		},
		Stage: project.StageExplain,
		Impl:  Impl{Script: "shap_explainer.py", Packages: []string{"shap"}, Pure: true},
	}
}

func float64Ptr(v float64) *float64 {
	return &v
}
