// 包 tasks：任务目录，进程启动时确定的有序任务定义；序号从 1 开始，是导航与查找的唯一标识
package tasks

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"geo-survey/internal/survey"

	"gopkg.in/yaml.v3"
)

// ErrUnknownTask：序号不在目录范围内
var ErrUnknownTask = errors.New("unknown task")

// Definition：单个任务定义
type Definition struct {
	Index       int         `json:"id" yaml:"-"`
	Instruction string      `json:"instruction" yaml:"instruction"`
	Kind        survey.Kind `json:"kind" yaml:"kind"`
}

// Catalog：只读有序目录
type Catalog struct {
	defs []Definition
}

// New：按给定顺序构建目录并校验类型
func New(defs []Definition) (*Catalog, error) {
	if len(defs) == 0 {
		return nil, errors.New("task catalog is empty")
	}
	out := make([]Definition, len(defs))
	for i, d := range defs {
		if !d.Kind.Valid() {
			return nil, fmt.Errorf("task %d: invalid kind %q", i+1, d.Kind)
		}
		if strings.TrimSpace(d.Instruction) == "" {
			return nil, fmt.Errorf("task %d: empty instruction", i+1)
		}
		d.Index = i + 1
		out[i] = d
	}
	return &Catalog{defs: out}, nil
}

// Default：内置目录（克拉斯诺戈尔斯克问卷）
func Default() *Catalog {
	c, _ := New([]Definition{
		{Instruction: "Как вы видите границы города Красногорск?", Kind: survey.KindPolygon},
		{Instruction: "Как вы видите границы своего района внутри города Красногорск?", Kind: survey.KindPolygon},
		{Instruction: "Какой район Красногорска вы порекомендовали для переезда?", Kind: survey.KindPolygon},
		{Instruction: "Какой район Красногорска вы точно НЕ порекомендовали для переезда?", Kind: survey.KindPolygon},
		{Instruction: "Отметьте на карте места, которые стоит посетить только что переехавшему в Ваш район человеку", Kind: survey.KindMarker},
	})
	return c
}

type catalogFile struct {
	Tasks []Definition `yaml:"tasks"`
}

// 文档注释：从 YAML 文件加载目录
// 背景：问卷内容随研究调整，允许通过 TASKS_PATH 替换内置目录而无需重新构建。
// 约束：文件格式为 tasks: [{instruction, kind}]，kind 取 polygon 或 popup。
func LoadFile(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f catalogFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return New(f.Tasks)
}

// Len：任务总数
func (c *Catalog) Len() int { return len(c.defs) }

// Get：按序号获取任务
func (c *Catalog) Get(index int) (Definition, error) {
	if index < 1 || index > len(c.defs) {
		return Definition{}, fmt.Errorf("%w: %d", ErrUnknownTask, index)
	}
	return c.defs[index-1], nil
}

// Next：下一个任务序号；已是最后一个时返回 false
func (c *Catalog) Next(index int) (int, bool) {
	if index < len(c.defs) {
		return index + 1, true
	}
	return 0, false
}

// All：目录副本
func (c *Catalog) All() []Definition {
	out := make([]Definition, len(c.defs))
	copy(out, c.defs)
	return out
}

// CheckKind：校验结果类型与任务定义一致
func (c *Catalog) CheckKind(index int, kind survey.Kind) error {
	d, err := c.Get(index)
	if err != nil {
		return err
	}
	if d.Kind != kind {
		return fmt.Errorf("%w: task %d is %s, got %s", survey.ErrKindMismatch, index, d.Kind, kind)
	}
	return nil
}
