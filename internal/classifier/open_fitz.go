package classifier

import (
	fitz "github.com/gen2brain/go-fitz"
)

type fitzOpener struct{}

func (fitzOpener) Open(path string) (Doc, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return fitzDoc{doc}, nil
}

func init() {
	defaultOpener = fitzOpener{}
}

type fitzDoc struct{ *fitz.Document }

func (d fitzDoc) Page(i int) (Page, error) {
	text, err := d.Document.Text(i)
	if err != nil {
		return nil, err
	}
	return textPage(text), nil
}

type textPage string

func (p textPage) Text() (string, error) { return string(p), nil }
func (p textPage) Close()                {}
