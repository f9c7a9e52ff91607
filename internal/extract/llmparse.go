package extract

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/caflow/cma-engine/internal/model"
	"github.com/caflow/cma-engine/pkg/llm"
)

const documentParseSystem = `You are a financial data extraction engine for Indian accounting documents (profit and loss statements, balance sheets, trial balances). You respond with JSON only, no prose.`

const documentParseSchema = `Return a JSON object with this exact shape:
{
  "document_type": "profit_and_loss" | "balance_sheet" | "trial_balance" | "other",
  "financial_year": "2023-24" or "",
  "entity_name": "name or empty string",
  "line_items": [
    {"name": "item name", "amount": 123.45, "parent_group": "group or empty", "is_total": false}
  ]
}
Amounts use plain numbers. Treat "Cr" suffixed amounts as positive and "Dr" as negative. Preserve the document's row order.`

// llmParseResult mirrors the JSON shape the model is asked for.
type llmParseResult struct {
	DocumentType  string `json:"document_type"`
	FinancialYear string `json:"financial_year"`
	EntityName    string `json:"entity_name"`
	LineItems     []struct {
		Name        string  `json:"name"`
		Amount      float64 `json:"amount"`
		ParentGroup string  `json:"parent_group"`
		IsTotal     bool    `json:"is_total"`
	} `json:"line_items"`
}

// ParsePDFText asks the model to structure text extracted from a digital PDF.
func ParsePDFText(ctx context.Context, client llm.Client, modelID string, maxTokens int64, text, fileName string) (*model.CanonicalDocument, llm.TokenUsage, error) {
	resp, err := client.CreateMessage(ctx, llm.MessageRequest{
		Model:     modelID,
		MaxTokens: maxTokens,
		System:    documentParseSystem,
		Messages: []llm.Message{{
			Role:    "user",
			Content: fmt.Sprintf("%s\n\nDocument text (from %s):\n\n%s", documentParseSchema, fileName, text),
		}},
	})
	if err != nil {
		return nil, llm.TokenUsage{}, eris.Wrapf(err, "extract: parse pdf text %s", fileName)
	}

	doc, err := decodeParseResult(resp.Text, fileName, "pdf_llm")
	return doc, resp.Usage, err
}

// ParseScannedPDF sends the PDF bytes themselves to the vision model as a
// document block. Used when pdftotext finds no text layer to read.
func ParseScannedPDF(ctx context.Context, client llm.Client, modelID string, maxTokens int64, pdfBase64, fileName string) (*model.CanonicalDocument, llm.TokenUsage, error) {
	resp, err := client.CreateVisionMessage(ctx, llm.VisionRequest{
		Model:     modelID,
		MaxTokens: maxTokens,
		System:    documentParseSystem,
		Prompt:    documentParseSchema,
		Documents: []llm.Document{{Data: pdfBase64}},
	})
	if err != nil {
		return nil, llm.TokenUsage{}, eris.Wrapf(err, "extract: parse scanned pdf %s", fileName)
	}

	doc, err := decodeParseResult(resp.Text, fileName, "vision")
	return doc, resp.Usage, err
}

// ParseImage asks the vision model to structure a photographed or scanned
// statement page.
func ParseImage(ctx context.Context, client llm.Client, modelID string, maxTokens int64, images []llm.Image, fileName string) (*model.CanonicalDocument, llm.TokenUsage, error) {
	resp, err := client.CreateVisionMessage(ctx, llm.VisionRequest{
		Model:     modelID,
		MaxTokens: maxTokens,
		System:    documentParseSystem,
		Prompt:    documentParseSchema,
		Images:    images,
	})
	if err != nil {
		return nil, llm.TokenUsage{}, eris.Wrapf(err, "extract: parse image %s", fileName)
	}

	doc, err := decodeParseResult(resp.Text, fileName, "vision")
	return doc, resp.Usage, err
}

func decodeParseResult(text, fileName, parser string) (*model.CanonicalDocument, error) {
	var result llmParseResult
	if err := json.Unmarshal([]byte(llm.CleanJSON(text)), &result); err != nil {
		return nil, eris.Wrapf(err, "extract: decode model output for %s", fileName)
	}
	if len(result.LineItems) == 0 {
		return nil, eris.Errorf("extract: model found no line items in %s", fileName)
	}

	doc := &model.CanonicalDocument{
		DocumentType:  model.DocumentType(result.DocumentType),
		FinancialYear: result.FinancialYear,
		EntityName:    result.EntityName,
		Currency:      "INR",
		Metadata: model.DocumentMetadata{
			SourceFile: fileName,
			RowCount:   len(result.LineItems),
			Parser:     parser,
		},
	}
	if doc.DocumentType == "" {
		doc.DocumentType = model.DocOther
	}

	for _, li := range result.LineItems {
		item := model.LineItem{
			Name:        li.Name,
			Amount:      li.Amount,
			ParentGroup: li.ParentGroup,
			IsTotal:     li.IsTotal,
		}
		if li.ParentGroup != "" {
			item.Level = 1
		}
		if li.IsTotal && li.Amount > doc.Totals.Gross {
			doc.Totals.Gross = li.Amount
			doc.Totals.Net = li.Amount
		}
		doc.LineItems = append(doc.LineItems, item)
	}
	return doc, nil
}
