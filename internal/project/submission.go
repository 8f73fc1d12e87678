// Package project はプロジェクトの作成・更新・削除と、画像配列の突き合わせを行う。
package project

import (
	"github.com/hitoshi/atelier/internal/imagestore"
	"github.com/hitoshi/atelier/internal/model"
)

// SlotKind は画像スロットの種別。
type SlotKind int

const (
	// SlotExisting は保存済みの画像をそのまま引き継ぐスロット。
	SlotExisting SlotKind = iota + 1
	// SlotNew は新規アップロードのスロット。
	SlotNew
)

// ImageSlot は送信された画像リストの1要素。
// Kindに応じてExistingまたはUploadのどちらか一方だけが意味を持つ。
type ImageSlot struct {
	Kind        SlotKind
	Existing    model.Image
	Upload      imagestore.Upload
	Alt         string
	Description string
	// Part は送信フォーム上の番号（image-{n} の n）。負の値ならSlots内の位置を使う。
	Part int
}

// ExistingSlot は保存済み画像を指すスロットを生成する。
func ExistingSlot(img model.Image) ImageSlot {
	return ImageSlot{Kind: SlotExisting, Existing: img, Alt: img.Alt, Description: img.Description, Part: -1}
}

// NewSlot は新規アップロードのスロットを生成する。
func NewSlot(upload imagestore.Upload, alt, description string) ImageSlot {
	return ImageSlot{Kind: SlotNew, Upload: upload, Alt: alt, Description: description, Part: -1}
}

// AtPart は送信フォーム上の番号を設定したスロットを返す。検証エラーのキーに使われる。
func (s ImageSlot) AtPart(n int) ImageSlot {
	s.Part = n
	return s
}

func (s ImageSlot) partNumber(position int) int {
	if s.Part < 0 {
		return position
	}
	return s.Part
}

// Submission は管理画面から送信されたプロジェクトの内容。
// Slotsの順序がそのまま表示順になる。
type Submission struct {
	Title          string
	Summary        string
	Description    string
	Slots          []ImageSlot
	MainImageIndex int
}
