// Package order は注文リクエストの検証と注文の作成・取得を提供する。
package order

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/pizza42/internal/model"
)

const (
	// MaxItems は1注文あたりの最大明細数。
	MaxItems = 50
	// MaxQuantity は1明細あたりの最大数量。
	MaxQuantity = 99
	// MaxUnitPriceCents は単価の上限（セント）。合計の桁あふれを防ぐ。
	MaxUnitPriceCents = 10_000_000
	// MaxNoteLength は備考の最大文字数。
	MaxNoteLength = 280
)

// NoteSanitizer は備考のサニタイズに必要なインターフェース。
type NoteSanitizer interface {
	Sanitize(raw string) string
}

// CreateOrderInput は検証・正規化済みの注文作成リクエスト。
type CreateOrderInput struct {
	Items      []model.LineItem
	TotalCents int64
	Note       string
}

// Validator は注文作成リクエストのボディを検証する。
type Validator struct {
	sanitizer NoteSanitizer
}

// NewValidator は新しいValidatorを生成する。sanitizerがnilの場合は備考をそのまま使う。
func NewValidator(sanitizer NoteSanitizer) *Validator {
	return &Validator{sanitizer: sanitizer}
}

// ValidateCreateRequest はリクエストボディを検証し、正規化した入力を返す。
//
// 合計金額はサーバー側で計算する。クライアントが total_cents を送った場合は
// 計算結果と一致しなければ拒否する。不正な値を黙って補正することはしない。
// 失敗時は invalid_request の *model.APIError を返す。
func (v *Validator) ValidateCreateRequest(body []byte) (*CreateOrderInput, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return nil, err
	}

	rawItems, ok := obj["items"]
	if !ok || rawItems == nil {
		return nil, invalid("items is required")
	}
	list, ok := rawItems.([]any)
	if !ok {
		return nil, invalid("items must be an array")
	}
	if len(list) == 0 {
		return nil, invalid("items must not be empty")
	}
	if len(list) > MaxItems {
		return nil, invalid(fmt.Sprintf("items must not exceed %d entries", MaxItems))
	}

	input := &CreateOrderInput{Items: make([]model.LineItem, 0, len(list))}
	for i, raw := range list {
		item, err := parseLineItem(i, raw)
		if err != nil {
			return nil, err
		}
		input.Items = append(input.Items, item)
		input.TotalCents += item.SubtotalCents()
	}

	if rawTotal, ok := obj["total_cents"]; ok && rawTotal != nil {
		clientTotal, err := integerField(rawTotal)
		if err != nil {
			return nil, invalid("total_cents must be an integer")
		}
		if clientTotal != input.TotalCents {
			return nil, invalid(fmt.Sprintf("total_cents does not match computed total %d", input.TotalCents))
		}
	}

	if rawNote, ok := obj["note"]; ok && rawNote != nil {
		note, ok := rawNote.(string)
		if !ok {
			return nil, invalid("note must be a string")
		}
		if v.sanitizer != nil {
			note = v.sanitizer.Sanitize(note)
		}
		note = strings.TrimSpace(note)
		// 長さは保存される値で判定する
		if utf8.RuneCountInString(note) > MaxNoteLength {
			return nil, invalid(fmt.Sprintf("note must not exceed %d characters", MaxNoteLength))
		}
		input.Note = note
	}

	return input, nil
}

// decodeObject はボディをJSONオブジェクトとしてデコードする。
// 数値はjson.Numberのまま保持し、整数と小数を区別できるようにする。
func decodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, invalid("body must be a JSON object")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, invalid("body must contain a single JSON object")
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, invalid("body must be a JSON object")
	}
	return obj, nil
}

// parseLineItem は1明細を検証する。
// 旧クライアントのフィールド名（id, qty, price_cents, price）も受け付ける。
func parseLineItem(i int, raw any) (model.LineItem, error) {
	field := func(name string) string { return fmt.Sprintf("items[%d].%s", i, name) }

	obj, ok := raw.(map[string]any)
	if !ok {
		return model.LineItem{}, invalid(fmt.Sprintf("items[%d] must be an object", i))
	}

	sku := stringField(first(obj, "sku", "id"))
	if sku == "" {
		return model.LineItem{}, invalid(field("sku") + " is required")
	}

	name, _ := obj["name"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return model.LineItem{}, invalid(field("name") + " is required")
	}

	rawQty := first(obj, "quantity", "qty")
	if rawQty == nil {
		return model.LineItem{}, invalid(field("quantity") + " is required")
	}
	qty, err := integerField(rawQty)
	if err != nil {
		return model.LineItem{}, invalid(field("quantity") + " must be an integer")
	}
	if qty <= 0 {
		return model.LineItem{}, invalid(field("quantity") + " must be positive")
	}
	if qty > MaxQuantity {
		return model.LineItem{}, invalid(fmt.Sprintf("%s must not exceed %d", field("quantity"), MaxQuantity))
	}

	price, err := parsePriceCents(obj, field)
	if err != nil {
		return model.LineItem{}, err
	}

	return model.LineItem{
		SKU:            sku,
		Name:           name,
		Quantity:       int(qty),
		UnitPriceCents: price,
	}, nil
}

// parsePriceCents は単価をセント単位の整数で返す。
// unit_price_cents / price_cents（整数セント）を優先し、無ければ price（ドル）を
// 小数演算で変換する。ドル表記は小数点以下2桁まで。
func parsePriceCents(obj map[string]any, field func(string) string) (int64, error) {
	var cents int64

	if rawCents := first(obj, "unit_price_cents", "price_cents"); rawCents != nil {
		c, err := integerField(rawCents)
		if err != nil {
			return 0, invalid(field("unit_price_cents") + " must be an integer")
		}
		cents = c
	} else if rawDollars, ok := obj["price"]; ok && rawDollars != nil {
		num, ok := rawDollars.(json.Number)
		if !ok {
			return 0, invalid(field("price") + " must be a number")
		}
		d, err := decimal.NewFromString(num.String())
		if err != nil {
			return 0, invalid(field("price") + " must be a number")
		}
		if !d.Equal(d.Round(2)) {
			return 0, invalid(field("price") + " must not have more than 2 decimal places")
		}
		if d.GreaterThan(decimal.NewFromInt(MaxUnitPriceCents).Shift(-2)) {
			return 0, invalid(field("price") + " is too large")
		}
		cents = d.Shift(2).IntPart()
	} else {
		return 0, invalid(field("unit_price_cents") + " is required")
	}

	if cents < 0 {
		return 0, invalid(field("unit_price_cents") + " must not be negative")
	}
	if cents > MaxUnitPriceCents {
		return 0, invalid(field("unit_price_cents") + " is too large")
	}
	return cents, nil
}

// first はkeysのうち最初に値を持つフィールドを返す。
func first(obj map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// stringField は文字列または数値のフィールドを文字列として返す。
func stringField(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

// integerField はjson.Numberを整数として解釈する。小数や文字列はエラー。
func integerField(v any) (int64, error) {
	num, ok := v.(json.Number)
	if !ok {
		return 0, errors.New("not a number")
	}
	return num.Int64()
}

func invalid(detail string) error {
	return model.NewInvalidRequestError(detail)
}
