package poet

import (
	"fmt"
	"strings"
)

// PoemForm is one of the fixed poetic forms a poem can be composed in.
type PoemForm string

const (
	FormWuyanJueju PoemForm = "五言绝句"
	FormQiyanJueju PoemForm = "七言绝句"
	FormWuyanLushi PoemForm = "五言律诗"
	FormQiyanLushi PoemForm = "七言律诗"
	FormSongCi     PoemForm = "宋词"
	FormYuanQu     PoemForm = "元曲"
	FormYuefu      PoemForm = "乐府诗"
	FormModernPoem PoemForm = "现代诗"
)

const DefaultPoemForm = FormQiyanJueju

// Forms lists every form in display order.
var Forms = []PoemForm{
	FormWuyanJueju,
	FormQiyanJueju,
	FormWuyanLushi,
	FormQiyanLushi,
	FormSongCi,
	FormYuanQu,
	FormYuefu,
	FormModernPoem,
}

// formAliases maps pinyin names accepted on the command line and in the API.
var formAliases = map[string]PoemForm{
	"wuyan-jueju": FormWuyanJueju,
	"qiyan-jueju": FormQiyanJueju,
	"wuyan-lushi": FormWuyanLushi,
	"qiyan-lushi": FormQiyanLushi,
	"songci":      FormSongCi,
	"yuanqu":      FormYuanQu,
	"yuefu":       FormYuefu,
	"modern":      FormModernPoem,
}

// Valid reports whether f is one of Forms.
func (f PoemForm) Valid() bool {
	for _, form := range Forms {
		if f == form {
			return true
		}
	}
	return false
}

// ParseForm accepts the Chinese form name or its pinyin alias.
func ParseForm(s string) (PoemForm, error) {
	s = strings.TrimSpace(s)
	if f := PoemForm(s); f.Valid() {
		return f, nil
	}
	if f, ok := formAliases[strings.ToLower(s)]; ok {
		return f, nil
	}
	return "", fmt.Errorf("unknown poem form %q", s)
}

// FormIndex returns the position of f in Forms, or -1.
func FormIndex(f PoemForm) int {
	for i, form := range Forms {
		if f == form {
			return i
		}
	}
	return -1
}
