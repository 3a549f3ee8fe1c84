package workflow

import "testing"

func scopeFor(artifacts map[string]map[string]string, phase string) EvalScope {
	return EvalScope{
		HasArtifact: func(t string) bool { _, ok := artifacts[t]; return ok },
		ArtifactField: func(t, field string) (string, bool) {
			fields, ok := artifacts[t]
			if !ok {
				return "", false
			}
			v, ok := fields[field]
			return v, ok
		},
		Phase: phase,
	}
}

func TestEvalConditionEmptyIsAlwaysTrue(t *testing.T) {
	ok, err := EvalCondition("", EvalScope{})
	if err != nil || !ok {
		t.Fatalf("want true, nil; got %v, %v", ok, err)
	}
}

func TestEvalConditionHasArtifact(t *testing.T) {
	scope := scopeFor(map[string]map[string]string{"design_doc": {}}, "")

	ok, err := EvalCondition(`has_artifact("design_doc")`, scope)
	if err != nil || !ok {
		t.Fatalf("want true, nil; got %v, %v", ok, err)
	}

	ok, err = EvalCondition(`has_artifact("missing_doc")`, scope)
	if err != nil || ok {
		t.Fatalf("want false, nil; got %v, %v", ok, err)
	}
}

func TestEvalConditionPhaseComparison(t *testing.T) {
	scope := scopeFor(nil, "planning")

	ok, err := EvalCondition(`phase == "planning"`, scope)
	if err != nil || !ok {
		t.Fatalf("want true, nil; got %v, %v", ok, err)
	}

	ok, err = EvalCondition(`phase == "building"`, scope)
	if err != nil || ok {
		t.Fatalf("want false, nil; got %v, %v", ok, err)
	}
}

func TestEvalConditionArtifactFieldComparison(t *testing.T) {
	scope := scopeFor(map[string]map[string]string{"review": {"verdict": "approved"}}, "")

	ok, err := EvalCondition(`artifact.review.verdict == "approved"`, scope)
	if err != nil || !ok {
		t.Fatalf("want true, nil; got %v, %v", ok, err)
	}

	ok, err = EvalCondition(`artifact.review.verdict == "rejected"`, scope)
	if err != nil || ok {
		t.Fatalf("want false, nil; got %v, %v", ok, err)
	}
}

func TestEvalConditionBooleanCombinators(t *testing.T) {
	scope := scopeFor(map[string]map[string]string{"design_doc": {}}, "building")

	ok, err := EvalCondition(`has_artifact("design_doc") && phase == "building"`, scope)
	if err != nil || !ok {
		t.Fatalf("want true, nil; got %v, %v", ok, err)
	}

	ok, err = EvalCondition(`has_artifact("missing") || phase == "building"`, scope)
	if err != nil || !ok {
		t.Fatalf("want true, nil; got %v, %v", ok, err)
	}

	ok, err = EvalCondition(`!has_artifact("missing") && phase == "building"`, scope)
	if err != nil || !ok {
		t.Fatalf("want true, nil; got %v, %v", ok, err)
	}

	ok, err = EvalCondition(`(has_artifact("missing") || has_artifact("design_doc")) && phase == "building"`, scope)
	if err != nil || !ok {
		t.Fatalf("want true, nil; got %v, %v", ok, err)
	}
}

func TestEvalConditionUnknownTokenErrors(t *testing.T) {
	_, err := EvalCondition(`bogus_token`, EvalScope{})
	if err == nil {
		t.Fatal("want error for unrecognized token")
	}
}

func TestEvalConditionTrailingTokenErrors(t *testing.T) {
	_, err := EvalCondition(`phase == "planning" extra`, EvalScope{Phase: "planning"})
	if err == nil {
		t.Fatal("want error for trailing token")
	}
}
