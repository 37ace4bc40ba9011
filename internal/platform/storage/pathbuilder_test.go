package storage

import (
	"strings"
	"testing"
)

func TestBuildObjectPathProductImage(t *testing.T) {
	path, err := BuildObjectPath(PurposeProductImage, PathParams{
		ProductID: "prd_01ABC",
		FileName:  "img_01XYZ.jpg",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "catalog/products/prd_01ABC/images/img_01XYZ.jpg" {
		t.Fatalf("unexpected path %q", path)
	}
}

func TestBuildObjectPathCategoryImage(t *testing.T) {
	path, err := BuildObjectPath(PurposeCategoryImage, PathParams{
		CategoryID: "cat_01ABC",
		FileName:   "banner.webp",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "catalog/categories/cat_01ABC/images/banner.webp" {
		t.Fatalf("unexpected path %q", path)
	}
}

func TestBuildObjectPathValidation(t *testing.T) {
	cases := map[string]PathParams{
		"missing product id":   {FileName: "a.jpg"},
		"missing file name":    {ProductID: "prd_1"},
		"slash in product id":  {ProductID: "prd/1", FileName: "a.jpg"},
		"backslash in file":    {ProductID: "prd_1", FileName: `a\b.jpg`},
		"traversal in file":    {ProductID: "prd_1", FileName: "../secret.jpg"},
		"traversal in product": {ProductID: "..", FileName: "a.jpg"},
		"blank file name":      {ProductID: "prd_1", FileName: "   "},
	}
	for name, params := range cases {
		if _, err := BuildObjectPath(PurposeProductImage, params); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestBuildObjectPathUnsupportedPurpose(t *testing.T) {
	_, err := BuildObjectPath(AssetPurpose("invoice-pdf"), PathParams{FileName: "a.pdf"})
	if err == nil || !strings.Contains(err.Error(), "unsupported asset purpose") {
		t.Fatalf("expected unsupported purpose error, got %v", err)
	}
}

func TestRegisterPathBuilderOverride(t *testing.T) {
	purpose := AssetPurpose("test-purpose")
	RegisterPathBuilder(purpose, func(params PathParams) (string, error) {
		return "custom/" + params.FileName, nil
	})
	defer RegisterPathBuilder(purpose, nil)

	path, err := BuildObjectPath(purpose, PathParams{FileName: "a.jpg"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "custom/a.jpg" {
		t.Fatalf("unexpected path %q", path)
	}

	RegisterPathBuilder(purpose, nil)
	if _, err := BuildObjectPath(purpose, PathParams{FileName: "a.jpg"}); err == nil {
		t.Fatal("expected builder to be removed")
	}
}
