package postproc

import "strings"

var stopwordLists = map[string]string{
	"en": `a about above after again against all am an and any are as at be because been before
being below between both but by can could did do does doing down during each few for from
further had has have having he her here hers herself him himself his how i if in into is it
its itself just me more most my myself no nor not now of off on once only or other our ours
ourselves out over own same she should so some such than that the their theirs them
themselves then there these they this those through to too under until up very was we were
what when where which while who whom why will with would you your yours yourself yourselves`,
	"de": `aber alle als also am an auch auf aus bei bin bis bist da damit dann das dass dein
dem den der des die dies diese dieser doch dort du durch ein eine einem einen einer eines er
es euer für hat hatte ich ihr im in ist ja jede kann kein mein mit nach nicht noch nun nur ob
oder sein sich sie sind so über um und uns unser von vor war was weil wenn wer wie wir wird
zu zum zur`,
	"fr": `à au aux avec ce ces cette dans de des du elle en et eux il ils je la le les leur lui
ma mais me même mes moi mon ne nos notre nous on ou où par pas pour qu que qui sa se ses son
sur ta te tes toi ton tu un une vos votre vous est sont été être avoir`,
	"es": `a al algo con de del el ella ellos en es esa ese esta este fue ha la las le lo los
más me mi no nos o para pero por que se si sin su sus también te tu un una uno y ya`,
}

var stopwords = func() map[string]map[string]bool {
	out := make(map[string]map[string]bool, len(stopwordLists))
	for lang, list := range stopwordLists {
		set := map[string]bool{}
		for _, w := range strings.Fields(list) {
			set[w] = true
		}
		out[lang] = set
	}
	return out
}()

// stopwordsFor returns the stopword set for an ISO 639-1 or 639-3 code,
// falling back to English.
func stopwordsFor(lang string) map[string]bool {
	switch strings.ToLower(lang) {
	case "de", "deu", "ger":
		return stopwords["de"]
	case "fr", "fra", "fre":
		return stopwords["fr"]
	case "es", "spa":
		return stopwords["es"]
	}
	return stopwords["en"]
}
