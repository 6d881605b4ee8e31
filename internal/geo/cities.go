package geo

// City 城市的时区、坐标与语言区域。
type City struct {
	Key      string  // 归一化后的城市名
	Timezone string  // IANA 时区
	Lat      float64 // 纬度
	Lng      float64 // 经度
	Locale   string  // 语言区域，如 pt-BR
	Accuracy float64 // 定位精度半径（米）
}

// DefaultCityKey 未匹配时使用的参考城市。
const DefaultCityKey = "sao paulo"

// cities 按固定顺序保存，子串匹配依赖该顺序保持稳定。
var cities = []City{
	// 巴西
	{Key: "sao paulo", Timezone: "America/Sao_Paulo", Lat: -23.5505, Lng: -46.6333, Locale: "pt-BR", Accuracy: 100},
	{Key: "rio de janeiro", Timezone: "America/Sao_Paulo", Lat: -22.9068, Lng: -43.1729, Locale: "pt-BR", Accuracy: 120},
	{Key: "belo horizonte", Timezone: "America/Sao_Paulo", Lat: -19.9167, Lng: -43.9345, Locale: "pt-BR", Accuracy: 100},
	{Key: "brasilia", Timezone: "America/Sao_Paulo", Lat: -15.7801, Lng: -47.9292, Locale: "pt-BR", Accuracy: 100},
	{Key: "salvador", Timezone: "America/Bahia", Lat: -12.9714, Lng: -38.5014, Locale: "pt-BR", Accuracy: 150},
	{Key: "curitiba", Timezone: "America/Sao_Paulo", Lat: -25.4284, Lng: -49.2733, Locale: "pt-BR", Accuracy: 100},
	{Key: "fortaleza", Timezone: "America/Fortaleza", Lat: -3.7172, Lng: -38.5284, Locale: "pt-BR", Accuracy: 110},
	{Key: "recife", Timezone: "America/Recife", Lat: -8.0476, Lng: -34.8770, Locale: "pt-BR", Accuracy: 130},
	{Key: "porto alegre", Timezone: "America/Sao_Paulo", Lat: -30.0346, Lng: -51.2177, Locale: "pt-BR", Accuracy: 100},
	{Key: "manaus", Timezone: "America/Manaus", Lat: -3.1190, Lng: -60.0217, Locale: "pt-BR", Accuracy: 150},

	// 国际
	{Key: "miami", Timezone: "America/New_York", Lat: 25.7617, Lng: -80.1918, Locale: "en-US", Accuracy: 100},
	{Key: "new york", Timezone: "America/New_York", Lat: 40.7128, Lng: -74.0060, Locale: "en-US", Accuracy: 100},
	{Key: "los angeles", Timezone: "America/Los_Angeles", Lat: 34.0522, Lng: -118.2437, Locale: "en-US", Accuracy: 100},
	{Key: "lisboa", Timezone: "Europe/Lisbon", Lat: 38.7223, Lng: -9.1393, Locale: "pt-PT", Accuracy: 100},
	{Key: "madrid", Timezone: "Europe/Madrid", Lat: 40.4168, Lng: -3.7038, Locale: "es-ES", Accuracy: 100},
	{Key: "londres", Timezone: "Europe/London", Lat: 51.5074, Lng: -0.1278, Locale: "en-GB", Accuracy: 100},
}

type areaCodeEntry struct {
	city  string
	codes []string
}

// areaCodes 巴西城市到区号（DDD）的映射，键保留原始拼写，查找时统一归一化。
var areaCodes = []areaCodeEntry{
	// São Paulo
	{"são paulo", []string{"11"}},
	{"santos", []string{"13"}},
	{"campinas", []string{"19"}},
	{"são josé dos campos", []string{"12"}},
	{"ribeirão preto", []string{"16"}},
	{"sorocaba", []string{"15"}},
	{"são josé do rio preto", []string{"17"}},
	{"bauru", []string{"14"}},
	{"presidente prudente", []string{"18"}},

	// Rio de Janeiro
	{"rio de janeiro", []string{"21"}},
	{"niterói", []string{"21"}},
	{"são gonçalo", []string{"21"}},
	{"campos dos goytacazes", []string{"22"}},
	{"petrópolis", []string{"24"}},
	{"volta redonda", []string{"24"}},

	// Minas Gerais
	{"belo horizonte", []string{"31"}},
	{"uberlândia", []string{"34"}},
	{"juiz de fora", []string{"32"}},
	{"contagem", []string{"31"}},
	{"betim", []string{"31"}},
	{"montes claros", []string{"38"}},
	{"uberaba", []string{"34"}},
	{"governador valadares", []string{"33"}},
	{"ipatinga", []string{"31"}},

	// Espírito Santo
	{"vitória", []string{"27"}},
	{"vila velha", []string{"27"}},
	{"serra", []string{"27"}},

	// Paraná
	{"curitiba", []string{"41"}},
	{"londrina", []string{"43"}},
	{"maringá", []string{"44"}},
	{"ponta grossa", []string{"42"}},
	{"cascavel", []string{"45"}},
	{"foz do iguaçu", []string{"45"}},

	// Santa Catarina
	{"florianópolis", []string{"48"}},
	{"joinville", []string{"47"}},
	{"blumenau", []string{"47"}},
	{"itajaí", []string{"47"}},

	// Rio Grande do Sul
	{"porto alegre", []string{"51"}},
	{"caxias do sul", []string{"54"}},
	{"pelotas", []string{"53"}},
	{"santa maria", []string{"55"}},

	// Bahia
	{"salvador", []string{"71"}},
	{"feira de santana", []string{"75"}},
	{"vitória da conquista", []string{"77"}},

	// Pernambuco
	{"recife", []string{"81"}},
	{"olinda", []string{"81"}},
	{"jaboatão dos guararapes", []string{"81"}},
	{"caruaru", []string{"81"}},
	{"petrolina", []string{"87"}},

	// Ceará
	{"fortaleza", []string{"85"}},
	{"juazeiro do norte", []string{"88"}},

	// 其他州府
	{"brasília", []string{"61"}},
	{"goiânia", []string{"62"}},
	{"cuiabá", []string{"65"}},
	{"campo grande", []string{"67"}},
	{"manaus", []string{"92"}},
	{"belém", []string{"91"}},
	{"maceió", []string{"82"}},
	{"natal", []string{"84"}},
	{"teresina", []string{"86"}},
	{"joão pessoa", []string{"83"}},
	{"aracaju", []string{"79"}},
	{"porto velho", []string{"69"}},
	{"rio branco", []string{"68"}},
	{"macapá", []string{"96"}},
	{"boa vista", []string{"95"}},
	{"palmas", []string{"63"}},
}
