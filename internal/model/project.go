// Package model はドメインモデルを定義する。
package model

import "time"

// Image はプロジェクトに埋め込まれる画像を表す。
// URLは参照パスまたはdata URIのどちらかで、どちらの形式も保存をまたいで保持される。
type Image struct {
	URL         string `json:"url"`
	Alt         string `json:"alt"`
	Description string `json:"description"`
	ContentType string `json:"contentType"`
	// Data はアップロード時に保持した生バイト列。URLが参照のみの場合は空。
	// APIレスポンスには含めない（URLが同じ内容を表すため）。
	Data []byte `json:"-"`
}

// SameAs はURLの一致で画像の同一性を判定する。
func (img Image) SameAs(other Image) bool {
	return img.URL == other.URL
}

// Project はポートフォリオに掲載するインテリアデザインのプロジェクトを表す。
// MainImageは常にImagesのいずれかの要素と一致する。
type Project struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Images      []Image   `json:"images"`
	MainImage   Image     `json:"mainImage"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// HasImage はimgがImagesに含まれるかどうかを返す。
func (p *Project) HasImage(img Image) bool {
	for _, candidate := range p.Images {
		if candidate.SameAs(img) {
			return true
		}
	}
	return false
}

// ProjectSummary は一覧表示用のプロジェクト概要。
type ProjectSummary struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Summary    string    `json:"summary"`
	MainImage  Image     `json:"mainImage"`
	ImageCount int       `json:"imageCount"`
	CreatedAt  time.Time `json:"createdAt"`
}
